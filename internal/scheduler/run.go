package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type jobRun struct {
	name      string
	startedAt time.Time
	processed int
}

func (r *jobRun) AddProcessed(n int) {
	if n > 0 {
		r.processed += n
	}
}

func (s *Scheduler) startRun(ctx context.Context, name string) *jobRun {
	run := &jobRun{name: name, startedAt: s.clock.Now(ctx)}
	s.log.Debug("job started", zap.String("job", name))
	return run
}

func (s *Scheduler) finishRun(ctx context.Context, run *jobRun, err error) {
	fields := []zap.Field{
		zap.String("job", run.name),
		zap.Int("processed", run.processed),
		zap.Duration("duration", s.clock.Now(ctx).Sub(run.startedAt)),
	}
	if err != nil {
		s.log.Error("job failed", append(fields, zap.Error(err))...)
		return
	}
	s.log.Info("job finished", fields...)
}
