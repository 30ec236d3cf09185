// Package maintenance compacts and re-plans the cache database out of band.
// The scheduler never runs on the hot path of a user action; each step is an
// individually transactional statement, so interrupting a window loses
// nothing but progress, and a failed step is simply retried next window.
package maintenance

import (
	"context"
	"time"

	"github.com/offlinekit/chatcache/internal/store"
	"go.uber.org/zap"
)

// Scheduler periodically checkpoints the WAL, reclaims free pages and
// refreshes planner statistics.
type Scheduler struct {
	db       *store.DB
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewScheduler creates a scheduler running every interval.
func NewScheduler(db *store.DB, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		db:       db,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the maintenance loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the loop; a step already running finishes, later steps in the
// window are skipped.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes one maintenance window. Step failures are logged and do
// not abort the remaining steps.
func (s *Scheduler) RunOnce(ctx context.Context) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"wal_checkpoint", s.db.CheckpointWAL},
		{"incremental_vacuum", s.db.VacuumIncremental},
		{"optimize", s.db.Optimize},
	}
	start := time.Now()
	for _, step := range steps {
		if ctx.Err() != nil {
			return
		}
		if err := step.fn(); err != nil {
			s.logger.Warn("maintenance step failed, will retry next window",
				zap.String("step", step.name), zap.Error(err))
		}
	}
	s.logger.Info("maintenance window complete", zap.Duration("elapsed", time.Since(start)))
}
