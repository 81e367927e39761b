package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronTrigger invokes a Runner on a cron schedule. A run still in progress
// when the next tick arrives causes that tick to be skipped.
type CronTrigger struct {
	logger     *zap.Logger
	runner     Runner
	expression string
	runTimeout time.Duration
	cron       *cron.Cron
	entryID    cron.EntryID
	cancel     context.CancelFunc
}

// NewCronTrigger validates expression and prepares the trigger. Expressions
// carry a seconds field, e.g. "0 */5 * * * *".
func NewCronTrigger(logger *zap.Logger, runner Runner, expression string, runTimeout time.Duration) (*CronTrigger, error) {
	if _, err := specParser.Parse(expression); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expression, err)
	}

	logger = logger.Named("cron")
	cronLogger := &cronLogger{logger: logger}
	cronOptions := []cron.Option{
		cron.WithParser(specParser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	}

	return &CronTrigger{
		logger:     logger,
		runner:     runner,
		expression: expression,
		runTimeout: runTimeout,
		cron:       cron.New(cronOptions...),
	}, nil
}

// Start schedules the runner. Runs inherit ctx, so cancelling it aborts an
// in-flight run.
func (t *CronTrigger) Start(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(ctx)

	entryID, err := t.cron.AddFunc(t.expression, func() { t.run(ctx) })
	if err != nil {
		t.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	t.entryID = entryID

	t.cron.Start()
	t.logger.Info("Evaluation schedule started",
		zap.String("expression", t.expression),
		zap.Time("next_run", t.cron.Entry(entryID).Next))
	return nil
}

// Stop stops scheduling and waits for a running evaluation to finish
func (t *CronTrigger) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *CronTrigger) run(ctx context.Context) {
	if t.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.runTimeout)
		defer cancel()
	}

	summary := t.runner.RunOnce(ctx)
	if !summary.Success {
		t.logger.Error("Scheduled evaluation failed", zap.String("error", summary.Error))
		return
	}

	t.logger.Info("Executed scheduled evaluation",
		zap.Int("rules_evaluated", summary.RulesEvaluated),
		zap.Int("alerts_triggered", summary.Triggered),
		zap.Time("next_run", t.cron.Entry(t.entryID).Next))
}
