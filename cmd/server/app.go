package main

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/handler"
	"github.com/t77yq/alertd/internal/lock"
	"github.com/t77yq/alertd/internal/metric"
	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/monitor"
	"github.com/t77yq/alertd/internal/notification"
	"github.com/t77yq/alertd/internal/scheduler"
	"github.com/t77yq/alertd/internal/service"
	"github.com/t77yq/alertd/internal/storage"
)

// app holds the wired engine components
type app struct {
	logger    *zap.Logger
	cfg       *config.Config
	db        *storage.DB
	triggers  *storage.TriggerStore
	publisher scheduler.EventPublisher
	scheduler *scheduler.EvaluationScheduler
	messages  *service.MessageService

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger, cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { a.db.Close() })

	rules := storage.NewRuleRepository(logger, a.db)
	a.triggers = storage.NewTriggerStore(logger, a.db)
	directory := storage.NewDirectory(logger, a.db)

	evaluator, err := a.newEvaluator()
	if err != nil {
		return nil, err
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	a.publisher = monitor.NopPublisher{}
	var senders []handler.Sender
	if cfg.NATS.URL != "" {
		nc, js, err := service.Connect(cfg.NATS, cfg.App.Name, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { drain(nc, logger) })

		a.messages = service.NewMessageService(js, logger)
		publisher, err := monitor.NewPublisher(logger, a.messages)
		if err != nil {
			return nil, err
		}
		a.publisher = publisher

		inApp, err := handler.NewInAppSender(logger, a.messages)
		if err != nil {
			return nil, err
		}
		senders = append(senders, inApp)
	}
	senders = append(senders, a.channelSenders()...)

	dispatcher := notification.NewDispatcher(logger, directory, notification.Options{
		Concurrency:   cfg.Notifications.Concurrency,
		Timeout:       cfg.Engine.IOTimeout,
		RatePerSecond: cfg.Notifications.RatePerSecond,
		Burst:         cfg.Notifications.Burst,
	}, senders...)

	a.scheduler = scheduler.NewEvaluationScheduler(logger, scheduler.Dependencies{
		Rules:      rules,
		Triggers:   a.triggers,
		Metrics:    evaluator,
		Dispatcher: dispatcher,
		Locker:     locker,
		Publisher:  a.publisher,
	}, scheduler.Options{
		Concurrency:   cfg.Engine.Concurrency,
		IOTimeout:     cfg.Engine.IOTimeout,
		TriggerTTL:    cfg.Engine.TriggerTTL,
		CooldownFloor: cfg.Engine.CooldownFloor,
		LeaseTTL:      cfg.Engine.LeaseTTL,
	})
	return a, nil
}

func (a *app) newEvaluator() (*metric.Evaluator, error) {
	evaluator := metric.NewEvaluator(a.logger)
	metric.RegisterEventMetrics(evaluator, storage.NewEventStore(a.logger, a.db))

	usage := &metric.ResourceUsage{Host: metric.NewHostProvider(a.logger, time.Second)}
	if a.cfg.Metrics.DockerEnabled {
		docker, err := metric.NewDockerProvider(a.logger)
		if err != nil {
			return nil, err
		}
		usage.Containers = docker
	}
	evaluator.Register(model.MetricResourceUsage, usage)

	if a.cfg.Metrics.PrometheusURL != "" {
		prom, err := metric.NewPrometheusProvider(a.logger, a.cfg.Metrics.PrometheusURL)
		if err != nil {
			return nil, err
		}
		evaluator.Register(model.MetricCustom, prom)
	}
	return evaluator, nil
}

func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Redis.Addr == "" {
		a.logger.Info("Using in-process rule leases")
		return lock.NewLocalLocker(), nil
	}

	locker, err := lock.NewRedisLocker(ctx, a.cfg.Redis, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { locker.Close() })
	return locker, nil
}

// channelSenders returns the senders of every channel with a configured transport
func (a *app) channelSenders() []handler.Sender {
	n := a.cfg.Notifications
	var senders []handler.Sender
	if n.Email.Host != "" {
		senders = append(senders, handler.NewEmailSender(a.logger, n.Email))
	}
	if n.SMS.URL != "" {
		senders = append(senders, handler.NewWebhookSender(a.logger, model.ChannelSMS, n.SMS))
	}
	if n.Push.URL != "" {
		senders = append(senders, handler.NewWebhookSender(a.logger, model.ChannelPush, n.Push))
	}

	channels := make([]string, 0, len(senders))
	for _, s := range senders {
		channels = append(channels, string(s.Channel()))
	}
	a.logger.Info("Notification channels configured", zap.Strings("channels", channels))
	return senders
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func drain(nc *nats.Conn, logger *zap.Logger) {
	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
		nc.Close()
	}
}

func (a *app) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Engine.RunTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Engine.RunTimeout)
	}
	return context.WithCancel(ctx)
}

func requireMessages(a *app) error {
	if a.messages == nil {
		return errors.New("nats.url is not configured")
	}
	return nil
}
