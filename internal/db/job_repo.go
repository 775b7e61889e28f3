package db

import (
	"context"
	"time"

	"reviewsms/internal/types"
)

// nonTerminalGuard restricts status updates to jobs that can still change:
// scheduled ones and failed ones whose queue entry is being retried. Sent and
// cancelled rows are never touched.
const nonTerminalGuard = `status IN ('scheduled', 'failed')`

const jobColumns = `id, transaction_id, customer_id, customer_first_name, customer_phone,
	sales_rep_name, transaction_completed_at, status, scheduled_at, sent_at,
	error_message, retry_count, review_platform, review_link, created_at, updated_at`

// JobRepository is the Postgres Job Store for sms_feedback_jobs.
type JobRepository struct {
	db  DBTX
	now func() time.Time
}

var _ types.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a JobRepository backed by db.
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

// InsertIfAbsent inserts job with status 'scheduled'. A conflicting
// transaction_id leaves the existing row untouched (first write wins).
func (r *JobRepository) InsertIfAbsent(ctx context.Context, job *types.Job) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO sms_feedback_jobs
		   (transaction_id, customer_id, customer_first_name, customer_phone,
		    sales_rep_name, transaction_completed_at, status, scheduled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'scheduled', $7)
		 ON CONFLICT (transaction_id) DO NOTHING`,
		job.TransactionID,
		job.CustomerID,
		job.CustomerFirstName,
		job.CustomerPhone,
		job.SalesRepName,
		job.TransactionCompletedAt,
		job.ScheduledAt,
	)
	if err != nil {
		return false, dbError("failed to insert feedback job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByTransactionID returns the job or a not_found_job AppError.
func (r *JobRepository) GetByTransactionID(ctx context.Context, transactionID string) (*types.Job, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+`
		 FROM sms_feedback_jobs
		 WHERE transaction_id = $1`,
		transactionID,
	)
	job, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "feedback job not found", nil)
		}
		return nil, dbError("failed to load feedback job", err)
	}
	return job, nil
}

// MarkSent records a successful delivery. sent_at, review_platform and
// review_link are written together in the same statement.
func (r *JobRepository) MarkSent(ctx context.Context, transactionID, platform, link string, sentAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sms_feedback_jobs
		 SET status = 'sent',
		     sent_at = $2,
		     review_platform = $3,
		     review_link = $4,
		     updated_at = $2
		 WHERE transaction_id = $1
		   AND `+nonTerminalGuard,
		transactionID, sentAt, platform, link,
	)
	if err != nil {
		return false, dbError("failed to mark feedback job sent", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records a delivery failure and increments retry_count.
func (r *JobRepository) MarkFailed(ctx context.Context, transactionID, errMsg string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sms_feedback_jobs
		 SET status = 'failed',
		     error_message = $2,
		     retry_count = retry_count + 1,
		     updated_at = $3
		 WHERE transaction_id = $1
		   AND `+nonTerminalGuard,
		transactionID, errMsg, r.now().UTC(),
	)
	if err != nil {
		return false, dbError("failed to mark feedback job failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCancelled moves a non-terminal job to cancelled.
func (r *JobRepository) MarkCancelled(ctx context.Context, transactionID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sms_feedback_jobs
		 SET status = 'cancelled',
		     updated_at = $2
		 WHERE transaction_id = $1
		   AND `+nonTerminalGuard,
		transactionID, r.now().UTC(),
	)
	if err != nil {
		return false, dbError("failed to cancel feedback job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByStatus aggregates terminal-state counts in a single scan.
func (r *JobRepository) CountByStatus(ctx context.Context) (types.JobStatusCounts, error) {
	var c types.JobStatusCounts
	err := r.db.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE status = 'sent'),
		   COUNT(*) FILTER (WHERE status = 'failed'),
		   COUNT(*) FILTER (WHERE status = 'cancelled')
		 FROM sms_feedback_jobs`,
	).Scan(&c.Sent, &c.Failed, &c.Cancelled)
	if err != nil {
		return types.JobStatusCounts{}, dbError("failed to count feedback jobs", err)
	}
	return c, nil
}

// ListDueScheduled serves the recovery sweep via the (status, scheduled_at)
// index.
func (r *JobRepository) ListDueScheduled(ctx context.Context, cutoff time.Time, limit int) ([]*types.Job, error) {
	return r.list(ctx, "due",
		`SELECT `+jobColumns+`
		 FROM sms_feedback_jobs
		 WHERE status = 'scheduled'
		   AND scheduled_at <= $1
		 ORDER BY scheduled_at ASC
		 LIMIT $2`,
		cutoff, limit,
	)
}

// ListFailed serves bulk retry through the same index.
func (r *JobRepository) ListFailed(ctx context.Context, since time.Time, limit int) ([]*types.Job, error) {
	return r.list(ctx, "failed",
		`SELECT `+jobColumns+`
		 FROM sms_feedback_jobs
		 WHERE status = 'failed'
		   AND scheduled_at >= $1
		 ORDER BY scheduled_at ASC
		 LIMIT $2`,
		since, limit,
	)
}

func (r *JobRepository) list(ctx context.Context, kind, sql string, args ...any) ([]*types.Job, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, dbError("failed to list "+kind+" feedback jobs", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, dbError("failed to scan feedback job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate feedback jobs", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*types.Job, error) {
	var (
		j      types.Job
		status string
	)
	err := s.Scan(
		&j.ID,
		&j.TransactionID,
		&j.CustomerID,
		&j.CustomerFirstName,
		&j.CustomerPhone,
		&j.SalesRepName,
		&j.TransactionCompletedAt,
		&status,
		&j.ScheduledAt,
		&j.SentAt,
		&j.ErrorMessage,
		&j.RetryCount,
		&j.ReviewPlatform,
		&j.ReviewLink,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	return &j, nil
}
