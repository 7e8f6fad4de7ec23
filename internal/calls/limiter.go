package calls

import (
	"context"
	"time"

	"teleconsult/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter caps concurrent open calls per requester.
type Limiter interface {
	Acquire(ctx context.Context, requesterID string) (bool, error)
	Release(ctx context.Context, requesterID string) error
}

// RedisLimiter is a Limiter backed by the atomic Redis concurrency cap.
// The slot TTL frees a requester if the process dies before releasing.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func activeSlotKey(requesterID string) string {
	return utils.CapKey("active_call", requesterID)
}

func (l *RedisLimiter) Acquire(ctx context.Context, requesterID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, activeSlotKey(requesterID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, requesterID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, activeSlotKey(requesterID))
}
