package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/model"
)

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) RunOnce(ctx context.Context) *model.RunSummary {
	r.runs.Add(1)
	return &model.RunSummary{Success: true, Timestamp: time.Now()}
}

func TestNewCronTrigger_InvalidExpression(t *testing.T) {
	_, err := NewCronTrigger(zaptest.NewLogger(t), &countingRunner{}, "every five minutes", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
}

func TestCronTrigger_RunsOnSchedule(t *testing.T) {
	runner := &countingRunner{}
	trigger, err := NewCronTrigger(zaptest.NewLogger(t), runner, "* * * * * *", time.Second)
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	defer trigger.Stop()

	assert.Eventually(t, func() bool {
		return runner.runs.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}
