package store

import (
	"context"
	"fmt"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/followup"

	"github.com/redis/go-redis/v9"
)

const claimPrefix = "followup:claim:"

// ClaimStore serialises dispatch of one reminder across runners. A claim is
// held from before the send until the dispatch is confirmed, or released when
// the send fails.
type ClaimStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// ClaimKey identifies a reminder firing against a specific due date.
func ClaimKey(followUpID string, dueDate time.Time, key followup.DispatchKey) string {
	return fmt.Sprintf("%s%s:%d:%s", claimPrefix, followUpID, dueDate.UTC().Unix(), key)
}

// RedisClaimStore implements ClaimStore with SET NX and a TTL, so a crashed
// runner's claims expire on their own.
type RedisClaimStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisClaimStore creates a claim store. ttl should exceed the longest
// expected send.
func NewRedisClaimStore(client redis.Cmdable, ttl time.Duration) *RedisClaimStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisClaimStore{client: client, ttl: ttl}
}

// Claim reports whether the caller now owns key.
func (s *RedisClaimStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, errors.NewCacheFailedError(err)
	}
	return ok, nil
}

// Release drops a claim.
func (s *RedisClaimStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.NewCacheFailedError(err)
	}
	return nil
}
