// Package reminders runs scheduler passes: it finds due reminders, delivers
// them and confirms each delivery exactly once.
package reminders

import (
	"context"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/common/metrics"
	"followup-engine/internal/common/observability"
	"followup-engine/internal/dispatch"
	"followup-engine/internal/followup"
	"followup-engine/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Dispatcher delivers a notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *dispatch.Notification) error
}

// Stats summarises one pass.
type Stats struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Runner executes scheduler passes over a RecordStore.
type Runner struct {
	records    store.RecordStore
	claims     store.ClaimStore
	dispatcher Dispatcher
	obs        *observability.Observability
	logger     logger.Logger
	now        func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the pass time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithObservability records passes as spans and OTel metrics.
func WithObservability(o *observability.Observability) Option {
	return func(r *Runner) { r.obs = o }
}

func NewRunner(records store.RecordStore, claims store.ClaimStore, d Dispatcher, l logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		records:    records,
		claims:     claims,
		dispatcher: d,
		logger:     l.WithFields(map[string]interface{}{"component": "reminder-runner"}),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs one pass. Errors scoped to a single reminder are counted
// in Stats and never abort the pass; only a failure to list records is
// returned.
func (r *Runner) RunOnce(ctx context.Context) (Stats, error) {
	return r.run(ctx, "job")
}

func (r *Runner) run(ctx context.Context, trigger string) (Stats, error) {
	start := time.Now()
	ctx, span := r.obs.StartSpan(ctx, "reminders.pass", attribute.String("trigger", trigger))
	defer span.End()

	var stats Stats
	defer func() {
		metrics.SchedulerPassDuration.Observe(time.Since(start).Seconds())
		r.obs.RecordPass(ctx, time.Since(start), trigger, stats.Failed > 0)
		span.SetAttributes(
			attribute.Int("due", stats.Due),
			attribute.Int("sent", stats.Sent),
			attribute.Int("failed", stats.Failed),
		)
	}()

	records, err := r.records.ListOpen(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list open follow-ups")
		return stats, err
	}

	now := r.now()
	due := followup.DueReminders(records, now)
	stats.Due = len(due)
	metrics.RemindersDue.Add(float64(len(due)))

	for _, d := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		switch r.deliver(ctx, d, now) {
		case outcomeSent:
			stats.Sent++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeFailed:
			stats.Failed++
		}
	}

	r.logger.Info("scheduler pass finished", map[string]interface{}{
		"trigger":  trigger,
		"records":  len(records),
		"due":      stats.Due,
		"sent":     stats.Sent,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
		"duration": time.Since(start).String(),
	})
	return stats, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
	outcomeFailed
)

// deliver sends one due reminder under a claim. The claim is kept after a
// successful send so a concurrent runner holding a stale snapshot cannot send
// it again before the confirmation is visible.
func (r *Runner) deliver(ctx context.Context, d followup.DueReminder, now time.Time) outcome {
	fields := map[string]interface{}{
		"followUpId": d.FollowUpID,
		"channel":    d.Channel,
		"key":        d.Key.String(),
	}

	claimKey := store.ClaimKey(d.FollowUpID, d.DueDate, d.Key)
	claimed, err := r.claims.Claim(ctx, claimKey)
	if err != nil {
		r.fail(d, err, fields, "claim failed")
		return outcomeFailed
	}
	if !claimed {
		r.logger.Debug("reminder claimed by another runner", fields)
		return outcomeSkipped
	}

	release := func() {
		if err := r.claims.Release(context.WithoutCancel(ctx), claimKey); err != nil {
			r.logger.Warn("failed to release claim", map[string]interface{}{"claim": claimKey, "error": err})
		}
	}

	rec, err := r.records.Get(ctx, d.FollowUpID)
	if err != nil {
		release()
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			r.logger.Debug("follow-up deleted before dispatch", fields)
			return outcomeSkipped
		}
		r.fail(d, err, fields, "reload failed")
		return outcomeFailed
	}
	if !followup.StillDue(rec, d, now) {
		release()
		r.logger.Debug("reminder no longer due", fields)
		return outcomeSkipped
	}

	if err := r.dispatcher.Dispatch(ctx, dispatch.NewScheduled(rec, d, now)); err != nil {
		release()
		r.fail(d, err, fields, "dispatch failed")
		return outcomeFailed
	}

	confirmed, err := r.records.ConfirmDispatch(ctx, d.FollowUpID, d.DueDate, d.Key)
	if err != nil {
		// Delivered but unconfirmed: the claim stays until its TTL so the
		// reminder is not resent while the store recovers.
		r.fail(d, err, fields, "confirm failed")
		return outcomeFailed
	}
	if !confirmed {
		r.logger.Warn("dispatch confirmation was a no-op", fields)
	}

	metrics.RemindersDispatched.WithLabelValues(string(d.Channel)).Inc()
	return outcomeSent
}

func (r *Runner) fail(d followup.DueReminder, err error, fields map[string]interface{}, msg string) {
	code := errors.CodeOf(err)
	metrics.RemindersFailed.WithLabelValues(string(d.Channel), string(code)).Inc()

	f := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		f[k] = v
	}
	f["code"] = code
	f["error"] = err
	r.logger.Error(msg, f)
}

// Start runs a pass every interval until ctx is cancelled. It is the
// in-process trigger; the workflow engine job is the alternative.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	r.logger.Info("reminder ticker started", map[string]interface{}{"interval": interval.String()})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reminder ticker stopped", nil)
			return
		case <-ticker.C:
			if _, err := r.run(ctx, "ticker"); err != nil && ctx.Err() == nil {
				r.logger.Error("scheduler pass failed", map[string]interface{}{"error": err})
			}
		}
	}
}
