package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type tailOptions struct {
	Subject string
}

func tailCmd(root *rootOptions) *cobra.Command {
	var opts tailOptions
	cmd := &cobra.Command{
		Use:          "tail",
		Short:        "Print alert lifecycle events as they are published",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd.Context(), root, opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.Subject, "subject", "s", "alert.>", "subject to follow, e.g. alert.triggered or notification.inapp.>")
	return cmd
}

func runTail(parent context.Context, root *rootOptions, opts tailOptions) error {
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
		return err
	}
	defer a.Close()

	if err := requireMessages(a); err != nil {
		return err
	}

	err = a.messages.Subscribe(ctx, opts.Subject, func(subject string, data []byte) {
		fmt.Fprintf(os.Stdout, "%s %s\n", subject, data)
	})
	if err != nil {
		return err
	}

	logger.Info("Following events", zap.String("subject", opts.Subject))
	<-ctx.Done()
	return nil
}
