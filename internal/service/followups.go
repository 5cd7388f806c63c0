// Package service implements the owner-scoped follow-up operations behind the
// REST API and the workflow workers.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/common/metrics"
	"followup-engine/internal/detector"
	"followup-engine/internal/dispatch"
	"followup-engine/internal/followup"
	"followup-engine/internal/store"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	maxWriteAttempts = 3
)

// Detector decides whether an email needs a follow-up.
type Detector interface {
	Detect(ctx context.Context, email detector.Email) (*followup.Detection, error)
}

// Dispatcher delivers a notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *dispatch.Notification) error
}

// channelLister is implemented by dispatchers that know which channels have a
// sender. "all" then means every configured channel.
type channelLister interface {
	Channels() []followup.Channel
}

// Service is the follow-up application service. Every operation is scoped to
// the calling user: another user's record is reported as not found.
type Service struct {
	records       store.RecordStore
	dispatcher    Dispatcher
	notifications dispatch.NotificationLog
	detector      Detector
	cache         redis.Cmdable
	cacheTTL      time.Duration
	logger        logger.Logger
	now           func() time.Time
	defaultTZ     string
}

// Option configures a Service.
type Option func(*Service)

func WithDetector(d Detector) Option {
	return func(s *Service) { s.detector = d }
}

// WithAnalyticsCache caches analytics per user for ttl.
func WithAnalyticsCache(client redis.Cmdable, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = client
		s.cacheTTL = ttl
	}
}

func WithNotificationLog(log dispatch.NotificationLog) Option {
	return func(s *Service) { s.notifications = log }
}

// WithDefaultTimeZone sets the zone given to follow-ups created without one.
func WithDefaultTimeZone(tz string) Option {
	return func(s *Service) { s.defaultTZ = tz }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(records store.RecordStore, d Dispatcher, l logger.Logger, opts ...Option) *Service {
	s := &Service{
		records:    records,
		dispatcher: d,
		logger:     l.WithFields(map[string]interface{}{"component": "followup-service"}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock returns the current time at the precision the store keeps, so due
// dates compare equal after a round trip.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func truncate(t time.Time) time.Time {
	return t.Truncate(time.Microsecond)
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.NewValidationError("userId", "user id is required")
	}
	return nil
}

// Create stores a new follow-up owned by userID.
func (s *Service) Create(ctx context.Context, userID string, p followup.NewRecordParams) (*followup.Record, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	p.UserID = userID
	p.DueDate = truncate(p.DueDate)
	if p.TimeZone == "" {
		p.TimeZone = s.defaultTZ
	}

	r, err := followup.NewRecord(p, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.records.Create(ctx, r); err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	s.logger.Info("follow-up created", map[string]interface{}{
		"followUpId": r.ID,
		"userId":     userID,
		"priority":   r.Priority,
		"dueDate":    r.DueDate,
	})
	return r, nil
}

// EmailInput is an email handed to CreateFromEmail.
type EmailInput struct {
	MessageID  string
	Subject    string
	Body       string
	From       followup.Contact
	ReceivedAt time.Time
	Priority   followup.Priority
	TimeZone   string
}

// CreateFromEmail runs the detector on an email and creates a follow-up when
// one is needed. The record is nil when the detector finds nothing to follow
// up.
func (s *Service) CreateFromEmail(ctx context.Context, userID string, in EmailInput) (*followup.Record, *followup.Detection, error) {
	if err := requireUser(userID); err != nil {
		return nil, nil, err
	}
	if s.detector == nil {
		return nil, nil, errors.NewDetectorFailedError(fmt.Errorf("detector is not configured"))
	}

	d, err := s.detector.Detect(ctx, detector.Email{
		MessageID:  in.MessageID,
		From:       in.From.Email,
		FromName:   in.From.Name,
		Subject:    in.Subject,
		Body:       in.Body,
		ReceivedAt: in.ReceivedAt,
	})
	if err != nil {
		return nil, nil, err
	}
	if !d.NeedsFollowUp {
		s.logger.Debug("no follow-up needed", map[string]interface{}{"messageId": in.MessageID})
		return nil, d, nil
	}

	p, err := followup.FromDetection(userID, *d, followup.EmailContext{
		MessageID: in.MessageID,
		Subject:   in.Subject,
		From:      in.From,
		Priority:  in.Priority,
		TimeZone:  in.TimeZone,
	}, s.clock())
	if err != nil {
		return nil, d, err
	}

	r, err := s.Create(ctx, userID, p)
	if err != nil {
		return nil, d, err
	}
	return r, d, nil
}

// Get loads a follow-up owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*followup.Record, error) {
	r, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, errors.NewNotFoundError("follow-up", id)
	}
	return r, nil
}

// mutate runs an optimistic read-modify-write. fn is applied to a fresh copy
// on every attempt; a record changed concurrently more than maxWriteAttempts
// times in a row yields STALE_WRITE.
func (s *Service) mutate(ctx context.Context, userID, id string, fn func(r *followup.Record, now time.Time) error) (*followup.Record, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		r, err := s.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if err := fn(r, s.clock()); err != nil {
			return nil, err
		}

		err = s.records.Update(ctx, r)
		if err == nil {
			s.invalidate(ctx, userID)
			return r, nil
		}
		if !errors.IsCode(err, errors.ErrCodeStaleWrite) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("stale write, retrying", map[string]interface{}{"followUpId": id, "attempt": attempt + 1})
	}
	return nil, lastErr
}

// Update edits the follow-up. Changing the due date clears the dispatched
// reminders.
func (s *Service) Update(ctx context.Context, userID, id string, u followup.RecordUpdate) (*followup.Record, error) {
	if u.DueDate != nil {
		due := truncate(*u.DueDate)
		u.DueDate = &due
	}
	return s.mutate(ctx, userID, id, func(r *followup.Record, now time.Time) error {
		return r.ApplyUpdate(u, now)
	})
}

// Delete removes the follow-up.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.records.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.logger.Info("follow-up deleted", map[string]interface{}{"followUpId": id, "userId": userID})
	return nil
}

// ListQuery filters and paginates List. Page is 1-based.
type ListQuery struct {
	Status    *followup.Status
	Priority  *followup.Priority
	DueBefore *time.Time
	DueAfter  *time.Time
	Page      int
	PageSize  int
}

// ListResult is one page of follow-ups.
type ListResult struct {
	Items    []*followup.Record `json:"items"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
	Pages    int                `json:"pages"`
}

// List returns the caller's follow-ups ordered by due date.
func (s *Service) List(ctx context.Context, userID string, q ListQuery) (*ListResult, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	items, total, err := s.records.List(ctx, store.ListFilter{
		UserID:    userID,
		Status:    q.Status,
		Priority:  q.Priority,
		DueBefore: q.DueBefore,
		DueAfter:  q.DueAfter,
		Limit:     q.PageSize,
		Offset:    (q.Page - 1) * q.PageSize,
	})
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Items:    items,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
		Pages:    (total + q.PageSize - 1) / q.PageSize,
	}, nil
}

// Transition applies a status event. notes is only used by complete.
func (s *Service) Transition(ctx context.Context, userID, id string, event followup.Event, notes string) (*followup.Record, error) {
	var from followup.Status
	r, err := s.mutate(ctx, userID, id, func(r *followup.Record, now time.Time) error {
		from = r.Status
		return r.Apply(event, notes, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.Transitions.WithLabelValues(string(event)).Inc()
	s.logger.Info("follow-up status changed", map[string]interface{}{
		"followUpId": id,
		"event":      event,
		"from":       from,
		"to":         r.Status,
	})
	return r, nil
}

func (s *Service) Start(ctx context.Context, userID, id string) (*followup.Record, error) {
	return s.Transition(ctx, userID, id, followup.EventStart, "")
}

func (s *Service) Complete(ctx context.Context, userID, id, notes string) (*followup.Record, error) {
	return s.Transition(ctx, userID, id, followup.EventComplete, notes)
}

func (s *Service) Ignore(ctx context.Context, userID, id string) (*followup.Record, error) {
	return s.Transition(ctx, userID, id, followup.EventIgnore, "")
}

func (s *Service) Reopen(ctx context.Context, userID, id string) (*followup.Record, error) {
	return s.Transition(ctx, userID, id, followup.EventReopen, "")
}

// Snooze pushes the due date out by days calendar days.
func (s *Service) Snooze(ctx context.Context, userID, id string, days int) (*followup.Record, error) {
	return s.mutate(ctx, userID, id, func(r *followup.Record, now time.Time) error {
		if err := r.Snooze(days, now); err != nil {
			return err
		}
		r.DueDate = truncate(r.DueDate)
		return nil
	})
}

// Reminders is the reminder view of a follow-up.
type Reminders struct {
	Settings   followup.ReminderSettings    `json:"settings"`
	Effective  []followup.EffectiveReminder `json:"effective"`
	Dispatched []followup.DispatchKey       `json:"dispatched"`
}

func remindersOf(r *followup.Record) *Reminders {
	return &Reminders{
		Settings:   r.Reminders.Clone(),
		Effective:  r.EffectiveReminders(),
		Dispatched: append([]followup.DispatchKey{}, r.DispatchedReminders...),
	}
}

// GetReminders returns the reminder settings and the effective schedule.
func (s *Service) GetReminders(ctx context.Context, userID, id string) (*Reminders, error) {
	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return remindersOf(r), nil
}

// ReplaceReminders replaces the reminder settings wholesale.
func (s *Service) ReplaceReminders(ctx context.Context, userID, id string, settings followup.ReminderSettings) (*Reminders, error) {
	r, err := s.mutate(ctx, userID, id, func(r *followup.Record, now time.Time) error {
		return r.SetReminderSettings(settings, now)
	})
	if err != nil {
		return nil, err
	}
	return remindersOf(r), nil
}

// SendNow delivers a one-off reminder on target, a channel name or "all".
// It never touches the dispatched reminders. Notifications delivered before a
// failing channel are returned with the error.
func (s *Service) SendNow(ctx context.Context, userID, id, target string) ([]*dispatch.Notification, error) {
	channels, err := followup.ResolveChannels(target)
	if err != nil {
		return nil, err
	}
	if len(channels) > 1 {
		if cl, ok := s.dispatcher.(channelLister); ok {
			channels = cl.Channels()
		}
	}
	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := r.CheckSendNow(); err != nil {
		return nil, err
	}

	now := s.clock()
	sent := make([]*dispatch.Notification, 0, len(channels))
	for _, c := range channels {
		n := dispatch.NewManual(r, c, now)
		if err := s.dispatcher.Dispatch(ctx, n); err != nil {
			metrics.RemindersFailed.WithLabelValues(string(c), string(errors.CodeOf(err))).Inc()
			return sent, err
		}
		metrics.RemindersDispatched.WithLabelValues(string(c)).Inc()
		sent = append(sent, n)
	}

	s.logger.Info("manual reminder sent", map[string]interface{}{
		"followUpId": id,
		"channels":   len(sent),
	})
	return sent, nil
}

// CheckDue returns the caller's reminders that are due now. It is read-only;
// delivery happens in the scheduler pass.
func (s *Service) CheckDue(ctx context.Context, userID string) ([]followup.DueReminder, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	now := s.clock()

	var due []followup.DueReminder
	for _, status := range []followup.Status{followup.StatusPending, followup.StatusInProgress} {
		st := status
		records, _, err := s.records.List(ctx, store.ListFilter{UserID: userID, Status: &st})
		if err != nil {
			return nil, err
		}
		due = append(due, followup.DueReminders(records, now)...)
	}
	followup.SortDueReminders(due)
	return due, nil
}

// Notifications lists the caller's notification center.
func (s *Service) Notifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*dispatch.Notification, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if s.notifications == nil {
		return []*dispatch.Notification{}, nil
	}
	return s.notifications.ListForUser(ctx, userID, unreadOnly, limit)
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if s.notifications == nil {
		return errors.NewNotFoundError("notification", id)
	}
	return s.notifications.MarkRead(ctx, userID, id, s.clock())
}
