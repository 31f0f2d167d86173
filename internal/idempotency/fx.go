package idempotency

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/subtrackhq/subtrack/internal/config"
	"github.com/subtrackhq/subtrack/internal/idempotency/domain"
	"github.com/subtrackhq/subtrack/internal/idempotency/repository"
	"github.com/subtrackhq/subtrack/internal/idempotency/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("idempotency.ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewLedger),
	fx.Provide(provideLedger),
)

type ledgerParams struct {
	fx.In

	SQL   *service.Ledger
	Redis *redis.Client `optional:"true"`
	Cfg   config.Config
	Log   *zap.Logger
}

// provideLedger puts Redis in front of the SQL ledger when a client is
// configured. Cache entries live as long as ledger rows are retained.
func provideLedger(p ledgerParams) domain.Ledger {
	if p.Redis == nil {
		return p.SQL
	}
	ttl := time.Duration(p.Cfg.WebhookRetentionDays) * 24 * time.Hour
	return service.NewRedisLedger(p.SQL, p.Redis, ttl, p.Log)
}
