package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for progbot.
type Config struct {
	General    GeneralConfig    `json:"general" yaml:"general"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Completion CompletionConfig `json:"completion" yaml:"completion"`
	WhatsApp   WhatsAppConfig   `json:"whatsapp" yaml:"whatsapp"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"` // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

// ServerConfig configures the inbound webhook HTTP server.
type ServerConfig struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	WebhookPath string `json:"webhookPath" yaml:"webhookPath"`
	// RelayTimeoutSeconds bounds the completion + send work for one callback.
	RelayTimeoutSeconds int `json:"relayTimeoutSeconds" yaml:"relayTimeoutSeconds"`
}

// CompletionConfig configures the language-model completion API client.
type CompletionConfig struct {
	APIKey    string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIBase   string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

// WhatsAppConfig configures the WhatsApp Cloud API client and webhook handshake.
type WhatsAppConfig struct {
	AccessToken   string `json:"accessToken,omitempty" yaml:"accessToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty" yaml:"phoneNumberId,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty" yaml:"verifyToken,omitempty"`
	APIBase       string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	// TestRecipient is only used by the `send` smoke-test command.
	TestRecipient string `json:"testRecipient,omitempty" yaml:"testRecipient,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.progbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".progbot"
	}
	return filepath.Join(home, ".progbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path (JSON, or YAML when the extension is
// .yaml/.yml), expands ${VAR} references, applies environment overrides and
// validates the result. A missing file is an error; callers that want to run
// from environment variables alone should use FromEnv.
func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// FromEnv returns the default config with environment overrides applied,
// for running without a config file.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides credential fields from well-known environment variables
// when they are set.
func ApplyEnv(cfg *Config) {
	setIfEnv(&cfg.Completion.APIKey, "COMPLETION_API_KEY")
	setIfEnv(&cfg.WhatsApp.AccessToken, "MESSAGING_API_TOKEN")
	setIfEnv(&cfg.WhatsApp.PhoneNumberID, "MESSAGING_NUMBER_ID")
	setIfEnv(&cfg.WhatsApp.VerifyToken, "WEBHOOK_VERIFY_TOKEN")
	setIfEnv(&cfg.WhatsApp.TestRecipient, "TEST_RECIPIENT_PHONE_NUMBER")
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if cfg.Server.RelayTimeoutSeconds < 1 {
		errs = append(errs, "server.relayTimeoutSeconds must be >= 1")
	}

	if cfg.Completion.Model == "" {
		errs = append(errs, "completion.model must not be empty")
	}
	if cfg.Completion.MaxTokens < 0 {
		errs = append(errs, "completion.maxTokens must be >= 0")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
