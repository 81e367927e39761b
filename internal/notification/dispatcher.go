package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/t77yq/alertd/internal/handler"
	"github.com/t77yq/alertd/internal/metrics"
	"github.com/t77yq/alertd/internal/model"
)

// ErrNoSender is recorded for deliveries on a channel with no sender configured
var ErrNoSender = errors.New("no sender configured for channel")

// Directory resolves rule recipients to contacts
type Directory interface {
	ResolveUsers(ctx context.Context, ids []string) ([]model.Contact, error)
	ResolveRoles(ctx context.Context, roles []string) ([]model.Contact, error)
}

// Options tunes delivery
type Options struct {
	// Concurrency bounds the sends in flight for one dispatch
	Concurrency int
	// Timeout bounds each individual send and each directory lookup
	Timeout time.Duration
	// RatePerSecond and Burst configure a limiter per channel; zero disables limiting
	RatePerSecond float64
	Burst         int
}

// Dispatcher fans a trigger out to its rule's recipients on every configured channel
type Dispatcher struct {
	logger    *zap.Logger
	directory Directory
	senders   map[model.Channel]handler.Sender
	limiters  map[model.Channel]*rate.Limiter
	opts      Options
}

// NewDispatcher creates a dispatcher using the given senders, one per channel
func NewDispatcher(logger *zap.Logger, directory Directory, opts Options, senders ...handler.Sender) *Dispatcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	d := &Dispatcher{
		logger:    logger.Named("dispatcher"),
		directory: directory,
		senders:   make(map[model.Channel]handler.Sender),
		limiters:  make(map[model.Channel]*rate.Limiter),
		opts:      opts,
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
		if opts.RatePerSecond > 0 {
			burst := opts.Burst
			if burst < 1 {
				burst = 1
			}
			d.limiters[s.Channel()] = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
		}
	}
	return d
}

type delivery struct {
	channel model.Channel
	contact model.Contact
	address string
}

// Dispatch delivers trigger to every recipient of rule on every rule channel.
// Failures are isolated per recipient and channel and reported in the summary;
// Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger *model.AlertTrigger, rule *model.AlertRule) *model.DeliverySummary {
	summary := &model.DeliverySummary{
		Errors:           []model.DeliveryFailure{},
		ChannelsNotified: []model.Channel{},
		NotifiedUserIDs:  []string{},
		NotifiedEmails:   []string{},
	}
	if len(rule.Channels) == 0 {
		return summary
	}

	contacts := d.resolveRecipients(ctx, rule)
	deliveries := plan(rule.Channels, contacts)
	if len(deliveries) == 0 {
		d.logger.Info("No recipients to notify",
			zap.String("rule_id", rule.ID),
			zap.String("trigger_id", trigger.ID))
		return summary
	}

	n := &handler.Notification{
		Title:   trigger.TitleSnapshot,
		Message: trigger.MessageSnapshot,
		Metadata: map[string]string{
			"trigger_id": trigger.ID,
			"rule_id":    rule.ID,
			"severity":   string(trigger.SeveritySnapshot),
		},
	}

	attempts := make([]model.NotificationAttempt, len(deliveries))
	g := new(errgroup.Group)
	g.SetLimit(d.opts.Concurrency)
	for i, dl := range deliveries {
		g.Go(func() error {
			err := d.send(ctx, dl, n)
			attempts[i] = model.NotificationAttempt{
				Channel:   dl.channel,
				Recipient: dl.address,
				UserID:    dl.contact.UserID,
				Success:   err == nil,
			}
			if err != nil {
				attempts[i].ErrorMessage = err.Error()
			}
			return nil
		})
	}
	g.Wait()

	summarize(summary, attempts)

	d.logger.Info("Notifications dispatched",
		zap.String("rule_id", rule.ID),
		zap.String("trigger_id", trigger.ID),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed))
	return summary
}

func (d *Dispatcher) send(ctx context.Context, dl delivery, n *handler.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("sender").Inc()
			err = fmt.Errorf("sender panicked: %v", r)
		}
		result := "success"
		if err != nil {
			result = "failed"
			d.logger.Warn("Notification failed",
				zap.String("channel", string(dl.channel)),
				zap.String("recipient", dl.address),
				zap.Error(err))
		}
		metrics.NotificationsTotal.WithLabelValues(string(dl.channel), result).Inc()
	}()

	sender, ok := d.senders[dl.channel]
	if !ok {
		return ErrNoSender
	}

	if limiter, ok := d.limiters[dl.channel]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	sendCtx, cancel := d.callContext(ctx)
	defer cancel()

	start := time.Now()
	err = sender.Send(sendCtx, dl.contact, n)
	metrics.NotificationDuration.WithLabelValues(string(dl.channel)).Observe(time.Since(start).Seconds())
	return err
}

// resolveRecipients returns the union of explicit users, literal emails and
// role members. A directory failure is logged and the affected users are kept
// as bare user ids so channels addressed by id can still reach them.
func (d *Dispatcher) resolveRecipients(ctx context.Context, rule *model.AlertRule) []model.Contact {
	var contacts []model.Contact

	if len(rule.RecipientUserIDs) > 0 {
		lookupCtx, cancel := d.callContext(ctx)
		users, err := d.directory.ResolveUsers(lookupCtx, rule.RecipientUserIDs)
		cancel()
		if err != nil {
			d.logger.Error("Failed to resolve recipient users",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			for _, id := range rule.RecipientUserIDs {
				users = append(users, model.Contact{UserID: id})
			}
		}
		contacts = append(contacts, users...)
	}

	for _, email := range rule.RecipientEmails {
		if email != "" {
			contacts = append(contacts, model.Contact{Email: email})
		}
	}

	if len(rule.RecipientRoles) > 0 {
		lookupCtx, cancel := d.callContext(ctx)
		members, err := d.directory.ResolveRoles(lookupCtx, rule.RecipientRoles)
		cancel()
		if err != nil {
			d.logger.Error("Failed to resolve recipient roles",
				zap.String("rule_id", rule.ID),
				zap.Strings("roles", rule.RecipientRoles),
				zap.Error(err))
		}
		contacts = append(contacts, members...)
	}
	return contacts
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.Timeout > 0 {
		return context.WithTimeout(ctx, d.opts.Timeout)
	}
	return ctx, func() {}
}

// plan lists one delivery per channel and distinct address
func plan(channels []model.Channel, contacts []model.Contact) []delivery {
	var deliveries []delivery
	seenChannel := make(map[model.Channel]bool)

	for _, ch := range channels {
		if seenChannel[ch] {
			continue
		}
		seenChannel[ch] = true

		seen := make(map[string]bool)
		for _, c := range contacts {
			addr := c.Address(ch)
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			deliveries = append(deliveries, delivery{channel: ch, contact: c, address: addr})
		}
	}
	return deliveries
}

// summarize folds attempts into summary. The audit fields list every attempted
// delivery whatever its outcome.
func summarize(summary *model.DeliverySummary, attempts []model.NotificationAttempt) {
	seenChannel := make(map[model.Channel]bool)
	seenUser := make(map[string]bool)
	seenEmail := make(map[string]bool)

	for _, a := range attempts {
		if a.Success {
			summary.Successful++
		} else {
			summary.Failed++
			summary.Errors = append(summary.Errors, model.DeliveryFailure{
				Recipient: a.Recipient,
				Channel:   a.Channel,
				Error:     a.ErrorMessage,
			})
		}

		if !seenChannel[a.Channel] {
			seenChannel[a.Channel] = true
			summary.ChannelsNotified = append(summary.ChannelsNotified, a.Channel)
		}
		if a.UserID != "" && !seenUser[a.UserID] {
			seenUser[a.UserID] = true
			summary.NotifiedUserIDs = append(summary.NotifiedUserIDs, a.UserID)
		}
		if a.Channel == model.ChannelEmail && !seenEmail[a.Recipient] {
			seenEmail[a.Recipient] = true
			summary.NotifiedEmails = append(summary.NotifiedEmails, a.Recipient)
		}
	}
	summary.Attempts = attempts
}
