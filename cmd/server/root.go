package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/alertd/internal/config"
)

type rootOptions struct {
	ConfigFile string
}

func rootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:          "alertd",
		Short:        "alertd evaluates alert rules and dispatches notifications",
		SilenceUsage: true,
	}

	fs := cmd.PersistentFlags()
	fs.StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default ./config/config.yaml)")

	cmd.AddCommand(serveCmd(&opts), runOnceCmd(&opts), tailCmd(&opts))
	return cmd
}

// loadConfig reads the configuration and builds the logger it describes
func loadConfig(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.With(zap.String("app", cfg.App.Name)), nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
