package lists

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Enqueuer hands a refresh job to the durable job queue.
type Enqueuer interface {
	EnqueueRefresh(ctx context.Context, listID int64) error
}

// Scheduler periodically scans for auto-updating lists whose interval has
// elapsed and enqueues a refresh job for each. With no queue configured it
// refreshes inline, trading durability for a simpler single-binary setup.
type Scheduler struct {
	svc      *Service
	enq      Enqueuer
	interval time.Duration
	log      *zap.Logger
}

func NewScheduler(svc *Service, enq Enqueuer, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{svc: svc, enq: enq, interval: interval, log: log}
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	due, err := s.svc.Due(ctx, now)
	if err != nil {
		s.log.Error("due-list scan failed", zap.Error(err))
		return
	}
	for _, l := range due {
		if s.enq != nil {
			if err := s.enq.EnqueueRefresh(ctx, l.ID); err != nil {
				s.log.Error("enqueue refresh failed", zap.Int64("list_id", l.ID), zap.Error(err))
			}
			continue
		}
		if _, err := s.svc.Refresh(ctx, l.ID); err != nil {
			s.log.Error("inline refresh failed", zap.Int64("list_id", l.ID), zap.Error(err))
		}
	}
	if len(due) > 0 {
		s.log.Info("refresh sweep", zap.Int("due", len(due)))
	}
}
