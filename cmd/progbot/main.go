package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"progbot/internal/completion"
	"progbot/internal/config"
	"progbot/internal/env"
	"progbot/internal/metrics"
	"progbot/internal/webhook"
	"progbot/internal/whatsapp"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Credentials may live in a local .env file, as on the original deployment.
	if err := env.Load(".env"); err != nil {
		logger.Warn("cannot read .env", "err", err)
	}

	root := &cobra.Command{
		Use:     "progbot",
		Short:   "progbot: WhatsApp relay for a programming-help chatbot",
		Long:    "progbot receives WhatsApp webhook notifications, forwards message text to a completion API and relays the reply back to the sender.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.progbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfig loads the config from --config, the default path, or the
// environment when no file exists.
func resolveConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil && configPath == "" {
		logger.Info("no config file, using environment", "path", path)
		cfg, err := config.FromEnv()
		return cfg, path, err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := configPath
			if cfgPath == "" {
				cfgPath = config.DefaultConfigPath()
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long:  "Starts the HTTP server that answers the platform's verification handshake and relays inbound text messages through the completion API. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := resolveConfig()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer, err := completion.NewClient(completion.ClientConfig{
		Config: cfg.Completion,
		Logger: log,
	})
	if err != nil {
		return err
	}

	messenger := whatsapp.NewClient(whatsapp.ClientConfig{
		Config: cfg.WhatsApp,
		Logger: log,
	})

	var coll *metrics.Metrics
	metricsAt := ""
	if cfg.Metrics.Enabled {
		coll = metrics.New()
		metricsAt = cfg.Metrics.Endpoint
	}

	server := webhook.NewServer(webhook.ServerConfig{
		Config:    cfg.Server,
		Verify:    cfg.WhatsApp.VerifyToken,
		Completer: completer,
		Messenger: messenger,
		Metrics:   coll,
		MetricsAt: metricsAt,
		Logger:    log,
	})

	return server.Run(ctx)
}

func sendCmd() *cobra.Command {
	var (
		text     string
		template string
		lang     string
		to       string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a test message (smoke test)",
		Long:  "Sends a text or template message to the configured test recipient, or to --to. Useful for verifying credentials before wiring the webhook.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := resolveConfig()
			if err != nil {
				return fmt.Errorf("load config %s: %w", cfgPath, err)
			}

			recipient := to
			if recipient == "" {
				recipient = cfg.WhatsApp.TestRecipient
			}
			if recipient == "" {
				return fmt.Errorf("no recipient: set --to or TEST_RECIPIENT_PHONE_NUMBER")
			}

			client := whatsapp.NewClient(whatsapp.ClientConfig{
				Config: cfg.WhatsApp,
				Logger: logger,
			})

			ctx := cmd.Context()
			if text != "" {
				status, err := client.SendText(ctx, text, recipient)
				if err != nil {
					return err
				}
				logger.Info("text message sent", "to", recipient, "status", status)
				return nil
			}

			status, err := client.SendTemplate(ctx, template, lang, recipient)
			if err != nil {
				return err
			}
			logger.Info("template message sent", "to", recipient, "template", template, "status", status)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "text message body (overrides --template)")
	cmd.Flags().StringVar(&template, "template", "hello_world", "template name")
	cmd.Flags().StringVar(&lang, "lang", "en_US", "template language code")
	cmd.Flags().StringVar(&to, "to", "", "recipient phone number (defaults to whatsapp.testRecipient)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check completion API reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := resolveConfig()
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				return err
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			completer, err := completion.NewClient(completion.ClientConfig{
				Config: cfg.Completion,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			if err := completer.Healthy(cmd.Context()); err != nil {
				logger.Error("completion API", "healthy", false, "err", err)
				return err
			}
			logger.Info("completion API", "healthy", true)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. completion.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := resolveConfig()
			if err != nil {
				return fmt.Errorf("load config %s: %w", cfgPath, err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. server.port 9090)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := resolveConfig()
			if err != nil {
				return fmt.Errorf("load config %s: %w", cfgPath, err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := resolveConfig()
			if err != nil {
				return fmt.Errorf("load config %s: %w", cfgPath, err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				fmt.Println(configPath)
				return
			}
			fmt.Println(config.DefaultConfigPath())
		},
	})

	return cmd
}
