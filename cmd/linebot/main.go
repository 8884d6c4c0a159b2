package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"linebot/internal/config"
	"linebot/internal/logging"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	envFile    string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "linebot",
		Short:         "LINE chat bot answering questions from a document folder",
		Long:          "linebot receives LINE webhook events and replies with answers grounded in local documents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to linebot.yaml (default: ./linebot.yaml when present)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets, ignored when missing")

	root.AddCommand(serveCmd())
	root.AddCommand(indexCmd())
	root.AddCommand(askCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// loadEnvFile reads the dotenv file without overriding variables that are
// already set in the environment.
func loadEnvFile() error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// resolveConfigPath returns the --config flag, or the default file when it
// exists. An empty result means configuration comes from the environment only.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.DefaultConfigPath
	}
	return ""
}

// loadConfig loads and validates the configuration and replaces the
// bootstrap logger with one built from the logging section.
func loadConfig() (*config.Config, error) {
	return setupFrom(config.Load)
}

// loadLocalConfig is loadConfig without validation, for commands that never
// reach LINE.
func loadLocalConfig() (*config.Config, error) {
	return setupFrom(config.LoadUnvalidated)
}

func setupFrom(load func(string) (*config.Config, error)) (*config.Config, error) {
	cfg, err := load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	l, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return nil, err
	}
	logger = l
	slog.SetDefault(logger)
	return cfg, nil
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create the documents folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := configPath
			if cfgPath == "" {
				cfgPath = config.DefaultConfigPath
			}
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Knowledge.DocumentsDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "documents", cfg.Knowledge.DocumentsDir)
			fmt.Printf("Set %s and %s (environment or .env), then run 'linebot serve'.\n",
				config.EnvChannelSecret, config.EnvChannelAccessToken)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("linebot %s\n", version)
		},
	}
}
