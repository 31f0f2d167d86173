package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/subtrackhq/subtrack/internal/clock"
	"github.com/subtrackhq/subtrack/internal/idempotency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

// Ledger is the durable, SQL-backed ledger. The unique key constraint is the
// synchronization point between concurrent deliveries of the same event.
type Ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewLedger(p Params) *Ledger {
	return &Ledger{
		db:    p.DB,
		log:   p.Log.Named("idempotency.ledger"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (l *Ledger) HasProcessed(ctx context.Context, key domain.Key) (bool, error) {
	if !key.Valid() {
		return false, domain.ErrInvalidKey
	}
	return l.repo.Exists(ctx, l.db, key.String())
}

func (l *Ledger) MarkProcessed(ctx context.Context, key domain.Key, eventType string, raw []byte) (bool, error) {
	if !key.Valid() {
		return false, domain.ErrInvalidKey
	}

	var payload datatypes.JSON
	if len(raw) > 0 && json.Valid(raw) {
		payload = datatypes.JSON(raw)
	}

	inserted, err := l.repo.InsertIfAbsent(ctx, l.db, &domain.ProcessedEvent{
		ID:          l.genID.Generate(),
		Key:         key.String(),
		Source:      key.Source,
		EventType:   eventType,
		RawPayload:  payload,
		ProcessedAt: l.clock.Now(ctx),
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		l.log.Debug("ledger key already present", zap.String("key", key.String()))
	}
	return inserted, nil
}

func (l *Ledger) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return l.repo.DeleteBefore(ctx, l.db, cutoff)
}
