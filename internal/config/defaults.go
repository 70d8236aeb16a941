package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			WebhookPath:         "/webhook",
			RelayTimeoutSeconds: 60,
		},
		Completion: CompletionConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o",
		},
		WhatsApp: WhatsAppConfig{
			APIBase: "https://graph.facebook.com/v21.0",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
