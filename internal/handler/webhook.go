package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/model"
)

// webhookPayload is the body posted to SMS and push gateways
type webhookPayload struct {
	Channel  model.Channel     `json:"channel"`
	To       string            `json:"to"`
	UserID   string            `json:"user_id,omitempty"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WebhookSender delivers notifications by posting JSON to a gateway, used for
// the sms and push channels.
type WebhookSender struct {
	logger     *zap.Logger
	channel    model.Channel
	config     config.WebhookConfig
	httpClient *http.Client
}

// NewWebhookSender creates a sender for channel posting to cfg.URL
func NewWebhookSender(logger *zap.Logger, channel model.Channel, cfg config.WebhookConfig) *WebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookSender{
		logger:  logger.Named(string(channel) + "_sender"),
		channel: channel,
		config:  cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Channel implements Sender
func (h *WebhookSender) Channel() model.Channel {
	return h.channel
}

// Send implements Sender
func (h *WebhookSender) Send(ctx context.Context, recipient model.Contact, n *Notification) error {
	to := recipient.Address(h.channel)
	if to == "" {
		return ErrNoAddress
	}

	body, err := json.Marshal(webhookPayload{
		Channel:  h.channel,
		To:       to,
		UserID:   recipient.UserID,
		Title:    n.Title,
		Message:  n.Message,
		Metadata: n.Metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.config.Token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway responded with status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	h.logger.Debug("Notification delivered",
		zap.String("channel", string(h.channel)),
		zap.String("to", to),
		zap.Int("status", resp.StatusCode))
	return nil
}
