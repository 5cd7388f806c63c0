package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/detector"
	"followup-engine/internal/dispatch"
	"followup-engine/internal/followup"
	"followup-engine/internal/store"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu       sync.Mutex
	sent     []*dispatch.Notification
	failOn   followup.Channel
	failWith error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n *dispatch.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn != "" && n.Channel == d.failOn {
		return errors.NewDispatchFailedError(string(n.Channel), d.failWith)
	}
	d.sent = append(d.sent, n)
	return nil
}

type stubDetector struct {
	detection *followup.Detection
	err       error
	got       detector.Email
}

func (d *stubDetector) Detect(_ context.Context, email detector.Email) (*followup.Detection, error) {
	d.got = email
	return d.detection, d.err
}

// staleOnceStore fails the first Update with STALE_WRITE after bumping the
// stored record, like a concurrent writer winning the race.
type staleOnceStore struct {
	*store.MemoryStore
	tripped bool
}

func (s *staleOnceStore) Update(ctx context.Context, r *followup.Record) error {
	if !s.tripped {
		s.tripped = true
		cur, err := s.MemoryStore.Get(ctx, r.ID)
		if err != nil {
			return err
		}
		cur.Notes = "edited elsewhere"
		if err := s.MemoryStore.Update(ctx, cur); err != nil {
			return err
		}
		return errors.NewStaleWriteError(r.ID, r.Version)
	}
	return s.MemoryStore.Update(ctx, r)
}

type testService struct {
	*Service
	records    *store.MemoryStore
	dispatcher *recordingDispatcher
	log        *dispatch.MemoryLog
}

func newTestService(t *testing.T, opts ...Option) *testService {
	records := store.NewMemoryStore()
	d := &recordingDispatcher{}
	log := dispatch.NewMemoryLog()
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithNotificationLog(log),
	}, opts...)
	return &testService{
		Service:    New(records, d, logger.NewTestLogger(t), opts...),
		records:    records,
		dispatcher: d,
		log:        log,
	}
}

func (s *testService) create(t *testing.T, userID string, mutate func(p *followup.NewRecordParams)) *followup.Record {
	t.Helper()
	p := followup.NewRecordParams{Subject: "Chase invoice", DueDate: testNow.Add(48 * time.Hour)}
	if mutate != nil {
		mutate(&p)
	}
	r, err := s.Create(context.Background(), userID, p)
	require.NoError(t, err)
	return r
}

func TestService_CreateAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	r := svc.create(t, "user-1", func(p *followup.NewRecordParams) {
		p.DueDate = testNow.Add(time.Hour + 1500*time.Nanosecond)
	})
	assert.Equal(t, "user-1", r.UserID)
	assert.Equal(t, followup.StatusPending, r.Status)
	assert.Equal(t, followup.PriorityMedium, r.Priority)
	assert.Equal(t, testNow.Add(time.Hour+time.Microsecond), r.DueDate)

	got, err := svc.Get(ctx, "user-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = svc.Get(ctx, "user-2", r.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestService_CreateUsesDefaultTimeZone(t *testing.T) {
	svc := newTestService(t, WithDefaultTimeZone("America/New_York"))

	r := svc.create(t, "user-1", nil)
	assert.Equal(t, "America/New_York", r.TimeZone)

	explicit := svc.create(t, "user-1", func(p *followup.NewRecordParams) { p.TimeZone = "Europe/Berlin" })
	assert.Equal(t, "Europe/Berlin", explicit.TimeZone)

	plain := newTestService(t).create(t, "user-1", nil)
	assert.Equal(t, "UTC", plain.TimeZone)
}

func TestService_CreateValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "", followup.NewRecordParams{Subject: "x", DueDate: testNow})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))

	_, err = svc.Create(ctx, "user-1", followup.NewRecordParams{Subject: "   ", DueDate: testNow})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func TestService_UpdateClearsDispatchedOnDueChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := svc.create(t, "user-1", nil)

	ok, err := svc.records.ConfirmDispatch(ctx, r.ID, r.DueDate, followup.DispatchKey{Offset: followup.Days(1), Channel: followup.ChannelInApp})
	require.NoError(t, err)
	require.True(t, ok)

	subject := "Chase invoice #42"
	updated, err := svc.Update(ctx, "user-1", r.ID, followup.RecordUpdate{Subject: &subject})
	require.NoError(t, err)
	assert.Equal(t, subject, updated.Subject)
	assert.Len(t, updated.DispatchedReminders, 1)

	due := testNow.Add(96 * time.Hour)
	updated, err = svc.Update(ctx, "user-1", r.ID, followup.RecordUpdate{DueDate: &due})
	require.NoError(t, err)
	assert.Empty(t, updated.DispatchedReminders)

	_, err = svc.Update(ctx, "user-2", r.ID, followup.RecordUpdate{Subject: &subject})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestService_UpdateRetriesStaleWrite(t *testing.T) {
	records := &staleOnceStore{MemoryStore: store.NewMemoryStore()}
	svc := New(records, &recordingDispatcher{}, logger.NewTestLogger(t), WithClock(func() time.Time { return testNow }))
	ctx := context.Background()

	r, err := svc.Create(ctx, "user-1", followup.NewRecordParams{Subject: "Call back", DueDate: testNow.Add(time.Hour)})
	require.NoError(t, err)

	priority := followup.PriorityHigh
	updated, err := svc.Update(ctx, "user-1", r.ID, followup.RecordUpdate{Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, followup.PriorityHigh, updated.Priority)
	assert.Equal(t, "edited elsewhere", updated.Notes)
}

func TestService_Delete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := svc.create(t, "user-1", nil)

	err := svc.Delete(ctx, "user-2", r.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	require.NoError(t, svc.Delete(ctx, "user-1", r.ID))
	_, err = svc.Get(ctx, "user-1", r.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestService_ListPaginates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		hours := i
		svc.create(t, "user-1", func(p *followup.NewRecordParams) { p.DueDate = testNow.Add(time.Duration(hours) * time.Hour) })
	}
	svc.create(t, "user-2", nil)

	res, err := svc.List(ctx, "user-1", ListQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 3, res.Pages)
	require.Len(t, res.Items, 2)
	assert.Equal(t, testNow.Add(2*time.Hour), res.Items[0].DueDate)

	res, err = svc.List(ctx, "user-1", ListQuery{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, res.PageSize)
	assert.Equal(t, 1, res.Page)
	assert.Len(t, res.Items, 5)

	status := followup.StatusCompleted
	res, err = svc.List(ctx, "user-1", ListQuery{Status: &status})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Zero(t, res.Pages)
	assert.Empty(t, res.Items)
}

func TestService_Transitions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := svc.create(t, "user-1", nil)

	got, err := svc.Start(ctx, "user-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, followup.StatusInProgress, got.Status)

	_, err = svc.Start(ctx, "user-1", r.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))

	got, err = svc.Complete(ctx, "user-1", r.ID, "paid")
	require.NoError(t, err)
	assert.Equal(t, followup.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.CompletionNotes)
	assert.Equal(t, "paid", *got.CompletionNotes)

	_, err = svc.Ignore(ctx, "user-1", r.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))

	got, err = svc.Reopen(ctx, "user-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, followup.StatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)

	got, err = svc.Ignore(ctx, "user-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, followup.StatusIgnored, got.Status)

	stored, err := svc.records.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, followup.StatusIgnored, stored.Status)
}

func TestService_Snooze(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := svc.create(t, "user-1", func(p *followup.NewRecordParams) { p.DueDate = testNow.Add(2 * time.Hour) })

	_, err := svc.Snooze(ctx, "user-1", r.ID, 0)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))

	got, err := svc.Snooze(ctx, "user-1", r.ID, 3)
	require.NoError(t, err)
	assert.True(t, got.DueDate.Equal(testNow.Add(74*time.Hour)))
	assert.Equal(t, followup.StatusPending, got.Status)
}

func TestService_Reminders(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := svc.create(t, "user-1", func(p *followup.NewRecordParams) { p.Priority = followup.PriorityUrgent })

	view, err := svc.GetReminders(ctx, "user-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, followup.DefaultReminderSettings(), view.Settings)
	assert.Len(t, view.Effective, 1)

	view, err = svc.ReplaceReminders(ctx, "user-1", r.ID, followup.ReminderSettings{
		Enabled:       true,
		PriorityBased: true,
		Schedule: []followup.ReminderEntry{
			{Offset: followup.Hours(2), Channel: followup.ChannelEmail},
			{Offset: followup.Days(1), Channel: followup.ChannelInApp},
			{Offset: followup.Hours(2), Channel: followup.ChannelEmail},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []followup.ReminderEntry{
		{Offset: followup.Days(1), Channel: followup.ChannelInApp},
		{Offset: followup.Hours(2), Channel: followup.ChannelEmail},
	}, view.Settings.Schedule)
	assert.Len(t, view.Effective, 4)

	_, err = svc.ReplaceReminders(ctx, "user-1", r.ID, followup.ReminderSettings{Enabled: true})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func TestService_SendNow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := svc.create(t, "user-1", nil)

	sent, err := svc.SendNow(ctx, "user-1", r.ID, "all")
	require.NoError(t, err)
	require.Len(t, sent, 3)
	for _, n := range sent {
		assert.True(t, n.Manual)
		assert.Nil(t, n.TriggerOffset)
	}

	stored, err := svc.records.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.DispatchedReminders)

	sent, err = svc.SendNow(ctx, "user-1", r.ID, "email")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, followup.ChannelEmail, sent[0].Channel)

	_, err = svc.SendNow(ctx, "user-1", r.ID, "sms")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))

	_, err = svc.Complete(ctx, "user-1", r.ID, "")
	require.NoError(t, err)
	_, err = svc.SendNow(ctx, "user-1", r.ID, "all")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))
}

func TestService_SendNowPartialFailure(t *testing.T) {
	svc := newTestService(t)
	svc.dispatcher.failOn = followup.ChannelBrowser
	svc.dispatcher.failWith = assert.AnError
	r := svc.create(t, "user-1", nil)

	sent, err := svc.SendNow(context.Background(), "user-1", r.ID, "all")
	assert.True(t, errors.IsCode(err, errors.ErrCodeDispatchFailed))
	assert.Len(t, sent, 2)
}

func TestService_SendNowAllUsesConfiguredChannels(t *testing.T) {
	records := store.NewMemoryStore()
	log := dispatch.NewMemoryLog()
	l := logger.NewTestLogger(t)
	d := dispatch.NewDispatcher(log, l, []dispatch.Sender{dispatch.NewInAppSender(log)})
	svc := New(records, d, l, WithClock(func() time.Time { return testNow }), WithNotificationLog(log))
	ctx := context.Background()

	r, err := svc.Create(ctx, "user-1", followup.NewRecordParams{Subject: "Chase invoice", DueDate: testNow.Add(48 * time.Hour)})
	require.NoError(t, err)

	sent, err := svc.SendNow(ctx, "user-1", r.ID, "all")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, followup.ChannelInApp, sent[0].Channel)

	_, err = svc.SendNow(ctx, "user-1", r.ID, "email")
	assert.True(t, errors.IsCode(err, errors.ErrCodeDispatchFailed))
}

func TestService_CheckDue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	due := svc.create(t, "user-1", func(p *followup.NewRecordParams) { p.DueDate = testNow.Add(6 * time.Hour) })
	svc.create(t, "user-1", func(p *followup.NewRecordParams) { p.DueDate = testNow.Add(72 * time.Hour) })
	svc.create(t, "user-2", func(p *followup.NewRecordParams) { p.DueDate = testNow.Add(time.Hour) })

	started := svc.create(t, "user-1", func(p *followup.NewRecordParams) { p.DueDate = testNow.Add(time.Hour) })
	_, err := svc.Start(ctx, "user-1", started.ID)
	require.NoError(t, err)

	reminders, err := svc.CheckDue(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, reminders, 2)
	ids := []string{reminders[0].FollowUpID, reminders[1].FollowUpID}
	assert.ElementsMatch(t, []string{due.ID, started.ID}, ids)

	again, err := svc.CheckDue(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, reminders, again)
}

func TestService_CreateFromEmail(t *testing.T) {
	suggested := testNow.Add(24 * time.Hour)
	det := &stubDetector{detection: &followup.Detection{
		NeedsFollowUp: true,
		Reason:        "Send the signed contract",
		KeyPoints:     []string{"contract", "signature"},
		SuggestedDate: &suggested,
	}}
	svc := newTestService(t, WithDetector(det))

	r, d, err := svc.CreateFromEmail(context.Background(), "user-1", EmailInput{
		MessageID: "msg-1",
		Subject:   "Contract",
		Body:      "Could you send it back by Tuesday?",
		From:      followup.Contact{Name: "Dana", Email: "dana@example.com"},
	})
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NotNil(t, r)
	assert.Equal(t, "Send the signed contract", r.Subject)
	assert.Equal(t, suggested, r.DueDate)
	assert.Equal(t, "msg-1", r.Source)
	assert.Equal(t, []string{"contract", "signature"}, r.KeyPoints)
	assert.Equal(t, "dana@example.com", det.got.From)
}

func TestService_CreateFromEmailUsesDefaultTimeZone(t *testing.T) {
	suggested := testNow.Add(24 * time.Hour)
	det := &stubDetector{detection: &followup.Detection{
		NeedsFollowUp: true,
		Reason:        "Confirm the venue",
		SuggestedDate: &suggested,
	}}
	svc := newTestService(t, WithDetector(det), WithDefaultTimeZone("Asia/Tokyo"))

	r, _, err := svc.CreateFromEmail(context.Background(), "user-1", EmailInput{
		MessageID: "msg-2",
		Subject:   "Venue",
		Body:      "Let me know by Friday.",
		From:      followup.Contact{Email: "kim@example.com"},
	})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "Asia/Tokyo", r.TimeZone)
}

func TestService_CreateFromEmailNothingToFollowUp(t *testing.T) {
	svc := newTestService(t, WithDetector(&stubDetector{detection: &followup.Detection{}}))

	r, d, err := svc.CreateFromEmail(context.Background(), "user-1", EmailInput{Subject: "Newsletter"})
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.False(t, d.NeedsFollowUp)

	res, err := svc.List(context.Background(), "user-1", ListQuery{})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestService_CreateFromEmailDetectorErrors(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.CreateFromEmail(context.Background(), "user-1", EmailInput{Subject: "x"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDetectorFailed))

	svc = newTestService(t, WithDetector(&stubDetector{err: errors.NewDetectorTimeoutError()}))
	_, _, err = svc.CreateFromEmail(context.Background(), "user-1", EmailInput{Subject: "x"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDetectorTimeout))
}

func TestService_Notifications(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	n := &dispatch.Notification{ID: "n-1", UserID: "user-1", Channel: followup.ChannelInApp, FiredAt: testNow, Subject: "s"}
	require.NoError(t, svc.log.Append(ctx, n))

	list, err := svc.Notifications(ctx, "user-1", true, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.MarkNotificationRead(ctx, "user-1", "n-1"))
	list, err = svc.Notifications(ctx, "user-1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestComputeAnalytics(t *testing.T) {
	mk := func(status followup.Status, due time.Time) *followup.Record {
		return &followup.Record{Status: status, DueDate: due, TimeZone: "UTC"}
	}
	records := []*followup.Record{
		mk(followup.StatusPending, testNow.Add(-48*time.Hour)),
		mk(followup.StatusPending, testNow.Add(-time.Hour)),
		mk(followup.StatusInProgress, testNow.Add(72*time.Hour)),
		mk(followup.StatusPending, testNow.Add(10*24*time.Hour)),
		mk(followup.StatusCompleted, testNow.Add(-72*time.Hour)),
		mk(followup.StatusIgnored, testNow.Add(-72*time.Hour)),
	}

	a := ComputeAnalytics(records, testNow)
	assert.Equal(t, &Analytics{
		Total:          6,
		Pending:        3,
		InProgress:     1,
		Completed:      1,
		Ignored:        1,
		Overdue:        1,
		DueThisWeek:    2,
		CompletionRate: 16.7,
	}, a)

	assert.Equal(t, &Analytics{}, ComputeAnalytics(nil, testNow))
}

func TestService_AnalyticsCacheMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	svc := newTestService(t, WithAnalyticsCache(client, time.Minute))
	ctx := context.Background()

	mock.ExpectDel("followup:analytics:user-1").SetVal(0)
	svc.create(t, "user-1", nil)

	expected := &Analytics{Total: 1, Pending: 1, DueThisWeek: 1}
	raw, _ := json.Marshal(expected)
	mock.ExpectGet("followup:analytics:user-1").RedisNil()
	mock.ExpectSet("followup:analytics:user-1", raw, time.Minute).SetVal("OK")

	a, err := svc.Analytics(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, expected, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_AnalyticsCacheHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	svc := newTestService(t, WithAnalyticsCache(client, time.Minute))

	cached := &Analytics{Total: 9, Completed: 3, CompletionRate: 33.3}
	raw, _ := json.Marshal(cached)
	mock.ExpectGet("followup:analytics:user-1").SetVal(string(raw))

	a, err := svc.Analytics(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, cached, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_AnalyticsCacheDown(t *testing.T) {
	client, mock := redismock.NewClientMock()
	svc := newTestService(t, WithAnalyticsCache(client, time.Minute))

	mock.ExpectGet("followup:analytics:user-1").SetErr(assert.AnError)
	mock.ExpectSet("followup:analytics:user-1", []byte(`{"total":0,"pending":0,"inProgress":0,"completed":0,"ignored":0,"overdue":0,"dueThisWeek":0,"completionRate":0}`), time.Minute).SetErr(assert.AnError)

	a, err := svc.Analytics(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, &Analytics{}, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}
