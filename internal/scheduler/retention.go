package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// CleanupProcessedEventsJob drops ledger rows past the retention window.
func (s *Scheduler) CleanupProcessedEventsJob(ctx context.Context, run *jobRun) error {
	retentionDays := s.cfg.WebhookRetentionDays
	if retentionDays <= 0 {
		s.log.Info("processed event retention disabled", zap.Int("days", retentionDays))
		return nil
	}

	cutoff := s.clock.Now(ctx).AddDate(0, 0, -retentionDays)
	deleted, err := s.ledger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	run.AddProcessed(int(deleted))
	return nil
}
