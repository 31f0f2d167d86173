package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/subtrackhq/subtrack/internal/idempotency/domain"
	"go.uber.org/zap"
)

const redisKeyPrefix = "subtrack:processed:"

// RedisLedger answers positive lookups from Redis and defers to the SQL
// ledger for everything else. A Redis failure never turns into a "not
// processed" answer; the SQL ledger stays authoritative.
type RedisLedger struct {
	next   domain.Ledger
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisLedger(next domain.Ledger, client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLedger{
		next:   next,
		client: client,
		ttl:    ttl,
		log:    log.Named("idempotency.redis"),
	}
}

func (r *RedisLedger) HasProcessed(ctx context.Context, key domain.Key) (bool, error) {
	if !key.Valid() {
		return false, domain.ErrInvalidKey
	}

	n, err := r.client.Exists(ctx, redisKeyPrefix+key.String()).Result()
	if err != nil {
		r.log.Warn("redis lookup failed, using sql ledger", zap.String("key", key.String()), zap.Error(err))
	} else if n > 0 {
		return true, nil
	}

	processed, err := r.next.HasProcessed(ctx, key)
	if err != nil {
		return false, err
	}
	if processed {
		r.remember(ctx, key)
	}
	return processed, nil
}

func (r *RedisLedger) MarkProcessed(ctx context.Context, key domain.Key, eventType string, raw []byte) (bool, error) {
	inserted, err := r.next.MarkProcessed(ctx, key, eventType, raw)
	if err != nil {
		return false, err
	}
	r.remember(ctx, key)
	return inserted, nil
}

func (r *RedisLedger) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// Cached keys expire on their own TTL.
	return r.next.PurgeBefore(ctx, cutoff)
}

func (r *RedisLedger) remember(ctx context.Context, key domain.Key) {
	if err := r.client.Set(ctx, redisKeyPrefix+key.String(), "1", r.ttl).Err(); err != nil {
		r.log.Warn("redis cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
}
