package handler

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/model"
)

// EmailSender delivers notifications over SMTP
type EmailSender struct {
	logger *zap.Logger
	config config.EmailConfig
}

// NewEmailSender creates an email sender
func NewEmailSender(logger *zap.Logger, cfg config.EmailConfig) *EmailSender {
	return &EmailSender{
		logger: logger.Named("email_sender"),
		config: cfg,
	}
}

// Channel implements Sender
func (h *EmailSender) Channel() model.Channel {
	return model.ChannelEmail
}

// Send implements Sender. The SMTP conversation is bound to ctx's deadline.
func (h *EmailSender) Send(ctx context.Context, recipient model.Contact, n *Notification) error {
	to := recipient.Address(model.ChannelEmail)
	if to == "" {
		return ErrNoAddress
	}

	addr := net.JoinHostPort(h.config.Host, strconv.Itoa(h.config.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(time.Minute))
	}

	client, err := smtp.NewClient(conn, h.config.Host)
	if err != nil {
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: h.config.Host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if h.config.Username != "" {
		auth := smtp.PlainAuth("",
			h.config.Username,
			h.config.Password,
			h.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(h.config.From); err != nil {
		return fmt.Errorf("SMTP MAIL FROM rejected: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO %s rejected: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA rejected: %w", err)
	}
	if _, err := w.Write(h.buildMessage(to, n)); err != nil {
		return fmt.Errorf("failed to write email: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	h.logger.Debug("Email sent", zap.String("to", to))
	return client.Quit()
}

func (h *EmailSender) buildMessage(to string, n *Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", h.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(n.Title))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	for _, key := range []string{"trigger_id", "rule_id", "severity"} {
		if v, ok := n.Metadata[key]; ok {
			fmt.Fprintf(&b, "X-Alert-%s: %s\r\n", headerName(key), sanitizeHeader(v))
		}
	}
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(n.Message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// headerName turns trigger_id into Trigger-Id
func headerName(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}
