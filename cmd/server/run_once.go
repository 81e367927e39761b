package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runOnceCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "run-once",
		Short:        "Evaluate every active rule once and print the run summary",
		Long:         `run-once is meant for external schedulers. It exits non-zero when the run aborted.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), root)
		},
	}
}

func runOnce(parent context.Context, root *rootOptions) error {
	cfg, logger, err := loadConfig(root)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}

	a, err := newApp(parent, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer a.Close()

	ctx, cancel := a.runContext(parent)
	defer cancel()

	summary := a.scheduler.RunOnce(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}

	if !summary.Success {
		return errors.New(summary.Error)
	}
	return nil
}
