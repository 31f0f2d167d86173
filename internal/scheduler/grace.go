package scheduler

import "context"

func (s *Scheduler) ExpireGracePeriodsJob(ctx context.Context, run *jobRun) error {
	expired, err := s.subscriptionSvc.ExpireGracePeriods(ctx)
	run.AddProcessed(expired)
	return err
}
