package handler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/service"
)

const (
	// NotificationStream holds in-app notifications
	NotificationStream = "NOTIFICATIONS"

	inAppSubjectPrefix = "notification.inapp."
)

// InAppMessage is published for every in-app notification
type InAppMessage struct {
	UserID   string            `json:"user_id"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// InAppSender delivers notifications to users' in-app inboxes over JetStream
type InAppSender struct {
	logger   *zap.Logger
	messages *service.MessageService
}

// NewInAppSender creates the sender and makes sure the notification stream exists
func NewInAppSender(logger *zap.Logger, messages *service.MessageService) (*InAppSender, error) {
	if err := messages.EnsureStream(NotificationStream, inAppSubjectPrefix+">"); err != nil {
		return nil, fmt.Errorf("failed to prepare notification stream: %w", err)
	}
	return &InAppSender{
		logger:   logger.Named("inapp_sender"),
		messages: messages,
	}, nil
}

// InAppSubject returns the subject a user's in-app notifications are published on
func InAppSubject(userID string) string {
	return inAppSubjectPrefix + userID
}

// Channel implements Sender
func (h *InAppSender) Channel() model.Channel {
	return model.ChannelInApp
}

// Send implements Sender
func (h *InAppSender) Send(ctx context.Context, recipient model.Contact, n *Notification) error {
	userID := recipient.Address(model.ChannelInApp)
	if userID == "" {
		return ErrNoAddress
	}

	return h.messages.Publish(ctx, InAppSubject(userID), &InAppMessage{
		UserID:   userID,
		Title:    n.Title,
		Message:  n.Message,
		Metadata: n.Metadata,
		SentAt:   time.Now().UTC(),
	})
}
