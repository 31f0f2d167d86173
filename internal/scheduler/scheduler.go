package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/subtrackhq/subtrack/internal/clock"
	"github.com/subtrackhq/subtrack/internal/config"
	idempotencydomain "github.com/subtrackhq/subtrack/internal/idempotency/domain"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg             config.Config
	Log             *zap.Logger
	Clock           clock.Clock
	Ledger          idempotencydomain.Ledger
	SubscriptionSvc subscriptiondomain.Service
	Redis           *redis.Client `optional:"true"`
}

// Scheduler runs the maintenance jobs on a fixed interval.
type Scheduler struct {
	cfg             config.Config
	log             *zap.Logger
	clock           clock.Clock
	ledger          idempotencydomain.Ledger
	subscriptionSvc subscriptiondomain.Service
	redis           *redis.Client
	interval        time.Duration
}

func New(p Params) *Scheduler {
	interval := p.Cfg.SchedulerInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		cfg:             p.Cfg,
		log:             p.Log.Named("scheduler"),
		clock:           p.Clock,
		ledger:          p.Ledger,
		subscriptionSvc: p.SubscriptionSvc,
		redis:           p.Redis,
		interval:        interval,
	}
}

type job struct {
	name string
	run  func(ctx context.Context, run *jobRun) error
}

func (s *Scheduler) jobs() []job {
	return []job{
		{name: "cleanup_processed_events", run: s.CleanupProcessedEventsJob},
		{name: "expire_grace_periods", run: s.ExpireGracePeriodsJob},
	}
}

// RunForever runs every job once immediately and then once per interval
// until ctx is done.
func (s *Scheduler) RunForever(ctx context.Context) {
	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs each job in order. A failing job does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, j := range s.jobs() {
		if ctx.Err() != nil {
			return
		}
		if !s.acquireLease(ctx, j.name) {
			s.log.Debug("job lease held elsewhere", zap.String("job", j.name))
			continue
		}

		run := s.startRun(ctx, j.name)
		err := j.run(ctx, run)
		s.finishRun(ctx, run, err)
	}
}

// acquireLease takes a per-tick lease in Redis so only one replica runs a
// job per interval. Without Redis, or when Redis fails, the job runs anyway.
func (s *Scheduler) acquireLease(ctx context.Context, name string) bool {
	if s.redis == nil {
		return true
	}
	key := "subtrack:scheduler:" + name
	ok, err := s.redis.SetNX(ctx, key, s.clock.Now(ctx).Format(time.RFC3339), max(s.interval*9/10, time.Second)).Result()
	if err != nil {
		s.log.Warn("scheduler lease unavailable, running job", zap.String("job", name), zap.Error(err))
		return true
	}
	return ok
}
