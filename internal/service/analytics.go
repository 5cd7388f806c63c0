package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/followup"
	"followup-engine/internal/store"

	"github.com/redis/go-redis/v9"
)

const dueThisWeekDays = 7

// Analytics is the per-user aggregate view of follow-ups.
type Analytics struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	InProgress     int     `json:"inProgress"`
	Completed      int     `json:"completed"`
	Ignored        int     `json:"ignored"`
	Overdue        int     `json:"overdue"`
	DueThisWeek    int     `json:"dueThisWeek"`
	CompletionRate float64 `json:"completionRate"`
}

func analyticsKey(userID string) string {
	return fmt.Sprintf("followup:analytics:%s", userID)
}

// Analytics returns the caller's aggregate counts, served from the cache when
// a fresh copy exists. Cache failures fall back to computing.
func (s *Service) Analytics(ctx context.Context, userID string) (*Analytics, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	if cached, ok := s.cachedAnalytics(ctx, userID); ok {
		return cached, nil
	}

	records, _, err := s.records.List(ctx, store.ListFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	a := ComputeAnalytics(records, s.clock())

	s.storeAnalytics(ctx, userID, a)
	return a, nil
}

// ComputeAnalytics aggregates records at now. Overdue and due-this-week only
// count open follow-ups; the completion rate is the completed share of all
// records as a percentage with one decimal.
func ComputeAnalytics(records []*followup.Record, now time.Time) *Analytics {
	a := &Analytics{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case followup.StatusPending:
			a.Pending++
		case followup.StatusInProgress:
			a.InProgress++
		case followup.StatusCompleted:
			a.Completed++
		case followup.StatusIgnored:
			a.Ignored++
		}

		if !r.Status.Open() {
			continue
		}
		if r.DueBucket(now) == followup.DueOverdue {
			a.Overdue++
		} else if followup.DueWithin(r.DueDate, now, r.Location(), dueThisWeekDays) {
			a.DueThisWeek++
		}
	}
	if a.Total > 0 {
		a.CompletionRate = math.Round(float64(a.Completed)/float64(a.Total)*1000) / 10
	}
	return a
}

func (s *Service) cachedAnalytics(ctx context.Context, userID string) (*Analytics, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, analyticsKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("analytics cache read failed", map[string]interface{}{"userId": userID, "error": errors.NewCacheFailedError(err)})
		}
		return nil, false
	}
	var a Analytics
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false
	}
	return &a, true
}

func (s *Service) storeAnalytics(ctx context.Context, userID string, a *Analytics) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, analyticsKey(userID), raw, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("analytics cache write failed", map[string]interface{}{"userId": userID, "error": err})
	}
}

// invalidate drops the caller's cached analytics after a mutation.
func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, analyticsKey(userID)).Err(); err != nil {
		s.logger.Warn("analytics cache invalidation failed", map[string]interface{}{"userId": userID, "error": err})
	}
}
