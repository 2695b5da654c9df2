package services

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"carflow/utils"
)

const batchFlightKey = "monthly-batch"

// Scheduler runs the aggregator periodically. Overlapping triggers inside
// one process share a single run; runs in other processes are serialized by
// the store's batch lock.
type Scheduler struct {
	agg      *Aggregator
	interval time.Duration
	logger   *utils.Logger
	flight   singleflight.Group
}

// NewScheduler creates a Scheduler. An interval of zero disables the ticker;
// Trigger still works.
func NewScheduler(agg *Aggregator, interval time.Duration, logger *utils.Logger) *Scheduler {
	return &Scheduler{agg: agg, interval: interval, logger: logger}
}

// Trigger runs a batch now, or joins the one already in flight. shared is
// true when the result came from a run started by another caller.
func (s *Scheduler) Trigger(ctx context.Context) (report RunReport, shared bool, err error) {
	v, err, shared := s.flight.Do(batchFlightKey, func() (interface{}, error) {
		return s.agg.RunWithRetry(ctx)
	})
	if r, ok := v.(RunReport); ok {
		report = r
	}
	return report, shared, err
}

// Run triggers a batch immediately and then on every tick until ctx is done.
// Failed runs are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("[scheduler] BATCH_INTERVAL not set, scheduled consolidation disabled")
		<-ctx.Done()
		return nil
	}

	s.logger.Info("[scheduler] Monthly consolidation every %v", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[scheduler] Stopping")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report, shared, err := s.Trigger(ctx)
	switch {
	case err != nil:
		s.logger.Error("[scheduler] Consolidation failed, will retry on next tick: %v", err)
	case shared:
		s.logger.Debug("[scheduler] Joined consolidation run %s already in flight", report.RunID)
	}
}
