package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"reviewsms/internal/types"
)

const queueColumns = `id, job_id, due_at, attempt, max_attempts, backoff_base_ms,
	claimed_by, claimed_until, enqueued_at`

// QueueRepository is the durable Postgres Delay Queue backed by
// sms_feedback_queue. Entries are leased to one worker at a time with
// FOR UPDATE SKIP LOCKED and a claimed_until deadline; a lapsed lease makes
// the entry claimable again.
type QueueRepository struct {
	db    DBTX
	lease time.Duration
	now   func() time.Time
}

var _ types.DelayQueue = (*QueueRepository)(nil)

// NewQueueRepository creates a queue whose claims expire after lease.
func NewQueueRepository(db DBTX, lease time.Duration) *QueueRepository {
	return &QueueRepository{db: db, lease: lease, now: time.Now}
}

// Enqueue admits one entry per job id. If the job already has a live entry,
// that entry's id is returned and nothing changes.
func (r *QueueRepository) Enqueue(ctx context.Context, jobID string, dueAt time.Time, maxAttempts int, backoff types.BackoffPolicy) (string, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx,
		`INSERT INTO sms_feedback_queue
		   (id, job_id, due_at, attempt, max_attempts, backoff_base_ms, enqueued_at)
		 VALUES ($1, $2, $3, 0, $4, $5, $6)
		 ON CONFLICT (job_id) DO UPDATE SET job_id = EXCLUDED.job_id
		 RETURNING id`,
		uuid.New(), jobID, dueAt.UTC(), maxAttempts, backoff.Base.Milliseconds(), r.now().UTC(),
	).Scan(&id)
	if err != nil {
		return "", dbError("failed to enqueue feedback job", err)
	}
	return id.String(), nil
}

// Claim leases the earliest due, unclaimed entry to workerID. It returns
// (nil, nil) when nothing is due.
func (r *QueueRepository) Claim(ctx context.Context, workerID string) (*types.QueueEntry, error) {
	now := r.now().UTC()
	row := r.db.QueryRow(ctx,
		`UPDATE sms_feedback_queue
		 SET claimed_by = $1,
		     claimed_until = $2
		 WHERE id = (
		   SELECT id FROM sms_feedback_queue
		   WHERE due_at <= $3
		     AND (claimed_until IS NULL OR claimed_until < $3)
		   ORDER BY due_at ASC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+queueColumns,
		workerID, now.Add(r.lease), now,
	)
	entry, err := scanQueueEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, dbError("failed to claim queue entry", err)
	}
	return entry, nil
}

// Ack permanently removes the entry if workerID still owns it.
func (r *QueueRepository) Ack(ctx context.Context, entryID, workerID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sms_feedback_queue
		 WHERE id = $1
		   AND claimed_by = $2`,
		entryID, workerID,
	)
	if err != nil {
		return dbError("failed to ack queue entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrLeaseLost
	}
	return nil
}

// Retry drops the entry when the attempt just made was the last allowed one;
// otherwise it pushes due_at out by base * 2^attempt, bumps attempt and
// releases the lease. Both paths require workerID to still own the entry.
func (r *QueueRepository) Retry(ctx context.Context, entryID, workerID string) (bool, time.Time, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sms_feedback_queue
		 WHERE id = $1
		   AND claimed_by = $2
		   AND attempt + 1 >= max_attempts`,
		entryID, workerID,
	)
	if err != nil {
		return false, time.Time{}, dbError("failed to drop exhausted queue entry", err)
	}
	if tag.RowsAffected() > 0 {
		return false, time.Time{}, nil
	}

	var nextDue time.Time
	err = r.db.QueryRow(ctx,
		`UPDATE sms_feedback_queue
		 SET attempt = attempt + 1,
		     due_at = $2::timestamptz + make_interval(secs => backoff_base_ms * power(2, attempt) / 1000.0),
		     claimed_by = NULL,
		     claimed_until = NULL
		 WHERE id = $1
		   AND claimed_by = $3
		 RETURNING due_at`,
		entryID, r.now().UTC(), workerID,
	).Scan(&nextDue)
	if err != nil {
		if isNoRows(err) {
			return false, time.Time{}, types.ErrLeaseLost
		}
		return false, time.Time{}, dbError("failed to reschedule queue entry", err)
	}
	return true, nextDue, nil
}

// Remove deletes the job's entry only if no live lease holds it.
func (r *QueueRepository) Remove(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sms_feedback_queue
		 WHERE job_id = $1
		   AND (claimed_until IS NULL OR claimed_until < $2)`,
		jobID, r.now().UTC(),
	)
	if err != nil {
		return false, dbError("failed to remove queue entry", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Contains reports whether the job has any entry, claimed or not.
func (r *QueueRepository) Contains(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sms_feedback_queue WHERE job_id = $1)`,
		jobID,
	).Scan(&exists)
	if err != nil {
		return false, dbError("failed to check queue entry", err)
	}
	return exists, nil
}

// Stats splits live entries into not-yet-due, due-and-waiting and leased.
func (r *QueueRepository) Stats(ctx context.Context) (types.QueueCounts, error) {
	var c types.QueueCounts
	err := r.db.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE due_at > $1 AND (claimed_until IS NULL OR claimed_until < $1)),
		   COUNT(*) FILTER (WHERE due_at <= $1 AND (claimed_until IS NULL OR claimed_until < $1)),
		   COUNT(*) FILTER (WHERE claimed_until >= $1)
		 FROM sms_feedback_queue`,
		r.now().UTC(),
	).Scan(&c.PendingNotDue, &c.DueNotClaimed, &c.InFlight)
	if err != nil {
		return types.QueueCounts{}, dbError("failed to read queue stats", err)
	}
	return c, nil
}

// Ping verifies the queue table is reachable. Used as a health probe.
func (r *QueueRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1 FROM sms_feedback_queue LIMIT 1`).Scan(&one); err != nil && !isNoRows(err) {
		return dbError("queue table unreachable", err)
	}
	return nil
}

func scanQueueEntry(s scanner) (*types.QueueEntry, error) {
	var (
		e         types.QueueEntry
		id        uuid.UUID
		backoffMS int64
		claimedBy *string
	)
	err := s.Scan(
		&id,
		&e.JobID,
		&e.DueAt,
		&e.Attempt,
		&e.MaxAttempts,
		&backoffMS,
		&claimedBy,
		&e.ClaimedUntil,
		&e.EnqueuedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ID = id.String()
	e.Backoff = types.BackoffPolicy{Base: time.Duration(backoffMS) * time.Millisecond}
	if claimedBy != nil {
		e.ClaimedBy = *claimedBy
	}
	return &e, nil
}
