package scheduler

import (
	"context"
	"fmt"
	"time"

	"reviewsms/internal/types"
)

// SweepLockID is the job_locks row held while a sweep runs.
const SweepLockID = "sms_feedback_recovery_sweep"

// SweeperConfig tunes RecoverySweeper.
type SweeperConfig struct {
	// Grace is how long past scheduled_at a job may sit without an entry
	// before it is considered lost.
	Grace       time.Duration
	BatchSize   int
	LockTTL     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// RecoverySweeper rebuilds queue entries for scheduled jobs that have none,
// e.g. after a crash between insert and enqueue or a lost in-memory queue.
// The Job Store is authoritative, so re-enqueueing is always safe.
type RecoverySweeper struct {
	jobs     types.JobRepository
	queue    types.DelayQueue
	lock     JobLocker
	metrics  SweepMetrics
	cfg      SweeperConfig
	workerID string
	logger   types.Logger
}

// NewRecoverySweeper creates a sweeper. metrics may be nil.
func NewRecoverySweeper(jobs types.JobRepository, q types.DelayQueue, lock JobLocker, metrics SweepMetrics, cfg SweeperConfig, workerID string, logger types.Logger) *RecoverySweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &RecoverySweeper{
		jobs:     jobs,
		queue:    q,
		lock:     lock,
		metrics:  metrics,
		cfg:      cfg,
		workerID: workerID,
		logger:   logger,
	}
}

// Sweep re-enqueues up to BatchSize lost jobs scheduled at or before
// now - Grace and returns how many it re-enqueued. It returns 0 without error
// when another instance holds the lock.
func (s *RecoverySweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	acquired, err := s.lock.Acquire(ctx, SweepLockID, s.workerID, s.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquiring sweep lock: %w", err)
	}
	if !acquired {
		s.logger.Info("sweep lock held by another worker, skipping")
		return 0, nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), SweepLockID, s.workerID); err != nil {
			s.logger.Warn("failed to release sweep lock", "error", err)
		}
	}()

	jobs, err := s.jobs.ListDueScheduled(ctx, now.Add(-s.cfg.Grace), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing due scheduled jobs: %w", err)
	}

	requeued := 0
	for _, job := range jobs {
		queued, err := s.queue.Contains(ctx, job.TransactionID)
		if err != nil {
			s.logger.Error("failed to check queue entry",
				"transaction_id", job.TransactionID,
				"error", err,
			)
			continue
		}
		if queued {
			continue
		}

		entryID, err := s.queue.Enqueue(ctx, job.TransactionID, now, s.cfg.MaxAttempts, types.BackoffPolicy{Base: s.cfg.BackoffBase})
		if err != nil {
			s.logger.Error("failed to re-enqueue lost job",
				"transaction_id", job.TransactionID,
				"error", err,
			)
			continue
		}
		s.logger.Warn("re-enqueued job with no queue entry",
			"transaction_id", job.TransactionID,
			"entry_id", entryID,
			"scheduled_at", job.ScheduledAt,
		)
		requeued++
	}

	if s.metrics != nil {
		s.metrics.RecordSweepRequeued(ctx, requeued)
	}
	s.logger.Info("recovery sweep complete",
		"requeued", requeued,
		"examined", len(jobs),
	)
	return requeued, nil
}
