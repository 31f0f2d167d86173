package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/subtrackhq/subtrack/internal/clock"
	quotadomain "github.com/subtrackhq/subtrack/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Redis  *redis.Client `optional:"true"`
	Log    *zap.Logger
	Clock  clock.Clock
	Config *quotadomain.Config
}

type service struct {
	redis *redis.Client
	log   *zap.Logger
	clock clock.Clock
	cfg   *quotadomain.Config
}

func NewService(p ServiceParam) quotadomain.Service {
	return &service{
		redis: p.Redis,
		log:   p.Log.Named("quota.service"),
		clock: p.Clock,
		cfg:   p.Config,
	}
}

func (s *service) AllowReceiptValidation(ctx context.Context, userID string) error {
	if !s.cfg.Enabled || s.cfg.ReceiptValidationsPerHour <= 0 || s.redis == nil {
		return nil
	}

	// quota:receipt:{user_id}:{yyyymmddhh}
	now := s.clock.Now(ctx)
	key := fmt.Sprintf("quota:receipt:%s:%s", userID, now.Format("2006010215"))

	val, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		// Fail open.
		s.log.Error("failed to increment receipt quota", zap.Error(err))
		return nil
	}
	if val == 1 {
		s.redis.Expire(ctx, key, 2*time.Hour)
	}

	if val > int64(s.cfg.ReceiptValidationsPerHour) {
		s.log.Warn("receipt validation rate limited",
			zap.String("user_id", userID),
			zap.Int64("attempts", val))
		return quotadomain.ErrReceiptRateLimited
	}
	return nil
}
