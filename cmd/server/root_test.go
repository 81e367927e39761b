package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/monitor"
)

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := rootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "run-once", "tail"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewApp_Standalone(t *testing.T) {
	cfg := &config.Config{
		App:      config.AppConfig{Name: "alertd-test"},
		Database: config.DatabaseConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "alertd.db")},
		Engine:   config.EngineConfig{Concurrency: 2},
	}

	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, monitor.NopPublisher{}, a.publisher)
	assert.Error(t, requireMessages(a))

	summary := a.scheduler.RunOnce(context.Background())
	assert.True(t, summary.Success)
	assert.Zero(t, summary.RulesEvaluated)
}
