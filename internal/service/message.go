package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/config"
)

const connectRetries = 5

// Connect dials NATS with reconnect handling and returns a JetStream context
func Connect(cfg config.NATSConfig, name string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	for i := 0; i < connectRetries; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS after retries: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, js, nil
}

// MessageService publishes and consumes JSON messages on a JetStream stream
type MessageService struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

func NewMessageService(js nats.JetStreamContext, logger *zap.Logger) *MessageService {
	return &MessageService{
		js:     js,
		logger: logger,
	}
}

// EnsureStream creates the stream if it does not exist yet
func (s *MessageService) EnsureStream(name string, subjects ...string) error {
	stream, err := s.js.StreamInfo(name)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream != nil {
		return nil
	}

	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}

	s.logger.Info("Stream created",
		zap.String("stream", name),
		zap.Strings("subjects", subjects))
	return nil
}

// Publish marshals v as JSON and publishes it on subject
func (s *MessageService) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := s.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		s.logger.Error("Failed to publish message",
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	s.logger.Debug("Message published", zap.String("subject", subject))
	return nil
}

// Subscribe delivers messages on subject to handler until ctx is done.
// A message is acknowledged after handler returns.
func (s *MessageService) Subscribe(ctx context.Context, subject string, handler func(subject string, data []byte)) error {
	sub, err := s.js.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
		if err := msg.Ack(); err != nil {
			s.logger.Warn("Failed to ack message",
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}
