package scheduler

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"reviewsms/internal/types"
)

// FeedbackConfig controls when a job is released and how often it may be
// attempted.
type FeedbackConfig struct {
	Delay       time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

func (c FeedbackConfig) backoff() types.BackoffPolicy {
	return types.BackoffPolicy{Base: c.BackoffBase}
}

// FeedbackScheduler admits transactions into the Job Store and the Delay
// Queue. It never talks to the SMS gateway.
type FeedbackScheduler struct {
	jobs   types.JobRepository
	queue  types.DelayQueue
	cfg    FeedbackConfig
	logger types.Logger
	now    func() time.Time
}

// Option configures a FeedbackScheduler.
type Option func(*FeedbackScheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *FeedbackScheduler) { s.now = now }
}

// NewFeedbackScheduler creates a scheduler. MaxAttempts below 1 is treated
// as 1.
func NewFeedbackScheduler(jobs types.JobRepository, q types.DelayQueue, cfg FeedbackConfig, logger types.Logger, opts ...Option) *FeedbackScheduler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	s := &FeedbackScheduler{jobs: jobs, queue: q, cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule stores a job for tx released after the configured delay and
// enqueues it. Replaying a transaction is a no-op that returns the handle of
// the existing job, including the id of its live queue entry. Settled jobs
// are never enqueued again and their handle carries no entry id.
func (s *FeedbackScheduler) Schedule(ctx context.Context, tx types.Transaction) (types.JobHandle, error) {
	job := types.NewJobFromTransaction(tx, s.now().UTC().Add(s.cfg.Delay))

	inserted, err := s.jobs.InsertIfAbsent(ctx, job)
	if err != nil {
		return types.JobHandle{}, err
	}
	if !inserted {
		existing, err := s.jobs.GetByTransactionID(ctx, tx.TransactionID)
		if err != nil {
			return types.JobHandle{}, err
		}
		job = existing
		s.logger.Info("transaction already scheduled",
			"transaction_id", tx.TransactionID,
			"status", string(existing.Status),
		)
		switch existing.Status {
		case types.JobStatusScheduled:
		case types.JobStatusFailed:
			// A failed job keeps its entry while automatic retries remain.
			pending, err := s.queue.Contains(ctx, job.TransactionID)
			if err != nil {
				return types.JobHandle{}, err
			}
			if !pending {
				return types.JobHandle{TransactionID: job.TransactionID, ScheduledAt: job.ScheduledAt}, nil
			}
		default:
			return types.JobHandle{TransactionID: job.TransactionID, ScheduledAt: job.ScheduledAt}, nil
		}
	}

	// Enqueue also repairs a scheduled job whose entry was never written.
	entryID, err := s.queue.Enqueue(ctx, job.TransactionID, job.ScheduledAt, s.cfg.MaxAttempts, s.cfg.backoff())
	if err != nil {
		return types.JobHandle{}, err
	}

	if inserted {
		s.logger.Info("feedback sms scheduled",
			"transaction_id", job.TransactionID,
			"entry_id", entryID,
			"scheduled_at", job.ScheduledAt,
		)
	}
	return types.JobHandle{
		EntryID:       entryID,
		TransactionID: job.TransactionID,
		ScheduledAt:   job.ScheduledAt,
	}, nil
}

// Cancel marks the job cancelled and then drops its queue entry. It returns
// false when there was nothing left to cancel: the job is unknown, settled,
// failed with no retry pending, or a worker already holds its entry. In the
// last case the job is still recorded as cancelled, so a retry of that entry
// is skipped, but the send in progress is not stopped.
//
// The Job Store is written first. A failure there leaves the entry in place
// and the caller can simply repeat the cancel.
func (s *FeedbackScheduler) Cancel(ctx context.Context, transactionID string) (bool, error) {
	job, err := s.jobs.GetByTransactionID(ctx, transactionID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundJob {
			return false, nil
		}
		return false, err
	}

	switch job.Status {
	case types.JobStatusScheduled:
	case types.JobStatusFailed:
		pending, err := s.queue.Contains(ctx, transactionID)
		if err != nil {
			return false, err
		}
		if !pending {
			return false, nil
		}
	default:
		return false, nil
	}

	updated, err := s.jobs.MarkCancelled(ctx, transactionID)
	if err != nil {
		return false, err
	}
	if !updated {
		return false, nil
	}

	log := s.logger.With("transaction_id", transactionID)
	removed, err := s.queue.Remove(ctx, transactionID)
	if err != nil {
		log.Warn("job cancelled but queue entry not removed, workers will skip it", "error", err)
		return true, nil
	}
	if !removed {
		held, err := s.queue.Contains(ctx, transactionID)
		if err != nil {
			log.Warn("job cancelled but queue entry state unknown", "error", err)
			return true, nil
		}
		if held {
			log.Info("job cancelled while a worker holds its entry")
			return false, nil
		}
	}
	log.Info("feedback sms cancelled")
	return true, nil
}

// Status reports queue depth from the Delay Queue and settled counts from
// the Job Store. The two reads are independent and may be slightly skewed.
func (s *FeedbackScheduler) Status(ctx context.Context) (types.QueueStats, error) {
	var (
		qc types.QueueCounts
		jc types.JobStatusCounts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		qc, err = s.queue.Stats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		jc, err = s.jobs.CountByStatus(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.QueueStats{}, err
	}

	return types.QueueStats{
		PendingNotDue: qc.PendingNotDue,
		DueNotClaimed: qc.DueNotClaimed,
		InFlight:      qc.InFlight,
		Completed:     jc.Sent,
		Failed:        jc.Failed,
		Cancelled:     jc.Cancelled,
	}, nil
}

// Job returns the stored job for transactionID.
func (s *FeedbackScheduler) Job(ctx context.Context, transactionID string) (*types.Job, error) {
	return s.jobs.GetByTransactionID(ctx, transactionID)
}

// Retry re-enqueues a failed job whose attempts are exhausted, due now and
// with a fresh allowance of MaxAttempts. Any other state is a conflict.
func (s *FeedbackScheduler) Retry(ctx context.Context, transactionID string) (types.JobHandle, error) {
	job, err := s.jobs.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return types.JobHandle{}, err
	}
	if job.Status != types.JobStatusFailed {
		return types.JobHandle{}, types.NewAppErrorWithDetails(types.ErrCodeConflictJobState,
			"only failed jobs can be retried", nil,
			map[string]any{"status": string(job.Status)})
	}

	queued, err := s.queue.Contains(ctx, transactionID)
	if err != nil {
		return types.JobHandle{}, err
	}
	if queued {
		return types.JobHandle{}, types.NewAppError(types.ErrCodeConflictJobQueued,
			"job still has automatic retries pending", nil)
	}

	// retry_count never resets, so the ceiling moves up instead.
	now := s.now().UTC()
	entryID, err := s.queue.Enqueue(ctx, transactionID, now, job.RetryCount+s.cfg.MaxAttempts, s.cfg.backoff())
	if err != nil {
		return types.JobHandle{}, err
	}

	s.logger.Info("failed job re-enqueued",
		"transaction_id", transactionID,
		"entry_id", entryID,
		"retry_count", job.RetryCount,
	)
	return types.JobHandle{EntryID: entryID, TransactionID: transactionID, ScheduledAt: now}, nil
}

// RetryFailed re-enqueues up to limit failed jobs scheduled at or after since,
// one Retry each. A job that cannot be retried is counted and the pass goes
// on; only a failure to list the jobs is returned as an error.
func (s *FeedbackScheduler) RetryFailed(ctx context.Context, since time.Time, limit int) (types.BulkRetryResult, error) {
	jobs, err := s.jobs.ListFailed(ctx, since, limit)
	if err != nil {
		return types.BulkRetryResult{}, err
	}

	res := types.BulkRetryResult{Considered: len(jobs)}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := s.Retry(ctx, job.TransactionID)
		var appErr *types.AppError
		switch {
		case err == nil:
			res.Retried++
		case errors.As(err, &appErr) && (appErr.Code == types.ErrCodeConflictJobQueued || appErr.Code == types.ErrCodeConflictJobState):
			res.Skipped++
		default:
			res.Failed++
			s.logger.Error("bulk retry failed for job",
				"transaction_id", job.TransactionID,
				"error", err,
			)
		}
	}

	s.logger.Info("bulk retry finished",
		"considered", res.Considered,
		"retried", res.Retried,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}
