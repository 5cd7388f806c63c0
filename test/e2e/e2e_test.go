// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followup-engine/internal/common/config"
	"followup-engine/internal/common/database"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/dispatch"
	"followup-engine/internal/followup"
	"followup-engine/internal/reminders"
	"followup-engine/internal/service"
	"followup-engine/internal/store"
)

// The suite runs against the local docker stack (Postgres and Redis) and is
// skipped unless FOLLOWUP_E2E is set.
func TestMain(m *testing.M) {
	if os.Getenv("FOLLOWUP_E2E") == "" {
		fmt.Println("FOLLOWUP_E2E not set, skipping e2e suite")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type stack struct {
	pg     *database.PostgresClient
	redis  *database.RedisClient
	log    *dispatch.PostgresLog
	svc    *service.Service
	runner *reminders.Runner
}

func newStack(t *testing.T) *stack {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load()
	require.NoError(t, err)

	// force localhost for e2e runs
	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Redis.Address = "localhost:6379"

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err)
	require.NoError(t, pg.Ping(ctx), "PostgreSQL ping failed")
	require.NoError(t, pg.Migrate(ctx))
	t.Cleanup(func() { pg.Close() })

	rdb, err := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, err)
	require.NoError(t, rdb.Ping(ctx), "Redis ping failed")
	t.Cleanup(func() { rdb.Close() })

	l := logger.NewTestLogger(t)
	notifications := dispatch.NewPostgresLog(pg.DB)
	dispatcher := dispatch.NewDispatcher(notifications, l, []dispatch.Sender{dispatch.NewInAppSender(notifications)})
	records := store.NewPostgresStore(pg.DB, store.WithLogger(l))

	return &stack{
		pg:    pg,
		redis: rdb,
		log:   notifications,
		svc: service.New(records, dispatcher, l,
			service.WithAnalyticsCache(rdb.Client, time.Minute),
			service.WithNotificationLog(notifications),
		),
		runner: reminders.NewRunner(records, store.NewRedisClaimStore(rdb.Client, time.Minute), dispatcher, l),
	}
}

func TestFullE2E(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	userID := "e2e-" + uuid.NewString()

	t.Cleanup(func() {
		_, _ = s.pg.DB.Exec(`DELETE FROM notifications WHERE user_id = $1`, userID)
		_, _ = s.pg.DB.Exec(`DELETE FROM follow_ups WHERE user_id = $1`, userID)
	})

	// the one-hour in-app reminder is already due
	r, err := s.svc.Create(ctx, userID, followup.NewRecordParams{
		Subject:  "Send the signed contract",
		Priority: followup.PriorityMedium,
		DueDate:  time.Now().Add(30 * time.Minute),
		Reminders: &followup.ReminderSettings{
			Enabled:  true,
			Schedule: []followup.ReminderEntry{{Offset: followup.Hours(1), Channel: followup.ChannelInApp}},
		},
	})
	require.NoError(t, err)

	got, err := s.svc.Get(ctx, userID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Subject, got.Subject)
	assert.Equal(t, followup.StatusPending, got.Status)

	due, err := s.svc.CheckDue(ctx, userID)
	require.NoError(t, err)
	require.Len(t, due, 1)

	stats, err := s.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Sent, 1)

	// a second pass must not deliver the same reminder again
	_, err = s.runner.RunOnce(ctx)
	require.NoError(t, err)

	sent, err := s.svc.Notifications(ctx, userID, false, 10)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, r.ID, sent[0].FollowUpID)
	assert.Equal(t, followup.ChannelInApp, sent[0].Channel)

	due, err = s.svc.CheckDue(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, s.svc.MarkNotificationRead(ctx, userID, sent[0].ID))
	unread, err := s.svc.Notifications(ctx, userID, true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)

	done, err := s.svc.Complete(ctx, userID, r.ID, "signed")
	require.NoError(t, err)
	assert.Equal(t, followup.StatusCompleted, done.Status)

	a, err := s.svc.Analytics(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Total)
	assert.Equal(t, 1, a.Completed)
	assert.Equal(t, 100.0, a.CompletionRate)
}
