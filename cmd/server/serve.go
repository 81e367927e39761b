package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/api"
	"github.com/t77yq/alertd/internal/scheduler"
)

func serveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Serve the evaluation trigger and operator API",
		Long:         `serve runs the HTTP server and, when schedule.cron is set, evaluates rules on that schedule.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(parent context.Context, root *rootOptions) error {
	cfg, logger, err := loadConfig(root)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer a.Close()

	if cfg.Auth.CronSecret == "" {
		logger.Warn("auth.cron_secret is empty, every authenticated endpoint will answer 401")
	}

	if cfg.Schedule.Cron != "" {
		trigger, err := scheduler.NewCronTrigger(logger, a.scheduler, cfg.Schedule.Cron, cfg.Engine.RunTimeout)
		if err != nil {
			return err
		}
		if err := trigger.Start(ctx); err != nil {
			return err
		}
		defer trigger.Stop()
	}

	server := api.NewServer(logger, cfg.HTTP, cfg.Auth.CronSecret, a.scheduler, a.triggers, a.publisher).
		WithRunTimeout(cfg.Engine.RunTimeout)
	if err := server.Run(ctx); err != nil {
		logger.Error("Server stopped", zap.Error(err))
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
