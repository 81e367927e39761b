package handler

import (
	"context"
	"errors"

	"github.com/t77yq/alertd/internal/model"
)

// ErrNoAddress is returned when a contact cannot be reached on the sender's channel
var ErrNoAddress = errors.New("recipient has no address for channel")

// Notification is the content delivered to one recipient
type Notification struct {
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sender delivers notifications on one channel. Implementations must be safe
// for concurrent use.
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, recipient model.Contact, n *Notification) error
}
