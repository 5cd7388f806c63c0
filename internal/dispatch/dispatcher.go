package dispatch

import (
	"context"
	"fmt"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/followup"
)

// Dispatcher routes notifications to the sender of their channel and records
// them in the notification log.
type Dispatcher struct {
	senders map[followup.Channel]Sender
	log     NotificationLog
	audit   AuditIndex
	logger  logger.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAudit mirrors every delivered notification into idx.
func WithAudit(idx AuditIndex) Option {
	return func(d *Dispatcher) { d.audit = idx }
}

// NewDispatcher builds a dispatcher. Channels without a sender fail with
// DISPATCH_FAILED.
func NewDispatcher(log NotificationLog, l logger.Logger, senders []Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		senders: make(map[followup.Channel]Sender, len(senders)),
		log:     log,
		logger:  l.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Channels lists the channels with a configured sender.
func (d *Dispatcher) Channels() []followup.Channel {
	var out []followup.Channel
	for _, c := range followup.AllChannels {
		if _, ok := d.senders[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Dispatch delivers n. A failed delivery is a DISPATCH_FAILED error and
// nothing is logged. Once delivered, logging and audit failures are only
// warned about: the notification went out and must not be sent again.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) error {
	sender, ok := d.senders[n.Channel]
	if !ok {
		return errors.NewDispatchFailedError(string(n.Channel), fmt.Errorf("channel %s is not configured", n.Channel))
	}

	if err := sender.Send(ctx, n); err != nil {
		d.logger.Warn("notification delivery failed", map[string]interface{}{
			"followUpId": n.FollowUpID,
			"channel":    n.Channel,
			"error":      err,
		})
		return errors.NewDispatchFailedError(string(n.Channel), err)
	}

	if n.Channel != followup.ChannelInApp {
		if err := d.log.Append(ctx, n); err != nil {
			d.logger.Warn("failed to log notification", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err,
			})
		}
	}

	if d.audit != nil {
		if err := d.audit.Index(ctx, n); err != nil {
			d.logger.Warn("failed to index notification", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err,
			})
		}
	}

	d.logger.Info("notification delivered", map[string]interface{}{
		"notificationId": n.ID,
		"followUpId":     n.FollowUpID,
		"channel":        n.Channel,
		"manual":         n.Manual,
	})
	return nil
}
