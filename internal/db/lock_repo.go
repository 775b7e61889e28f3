package db

import (
	"context"
	"time"
)

// JobLockRepository provides distributed locking via the job_locks table so
// that only one recovery sweep runs at a time.
type JobLockRepository struct {
	db  DBTX
	now func() time.Time
}

// NewJobLockRepository creates a JobLockRepository backed by db.
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db, now: time.Now}
}

// Acquire inserts or reclaims the lock row. It returns false while another
// holder's lock has not expired.
//
// expires_at is computed in Go to avoid interval parsing of Go duration
// strings in SQL.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	now := r.now().UTC()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID, workerID, now, now.Add(ttl),
	)
	if err != nil {
		return false, dbError("failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock if workerID still holds it.
func (r *JobLockRepository) Release(ctx context.Context, lockID, workerID string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE id = $1 AND worker_id = $2`,
		lockID, workerID,
	); err != nil {
		return dbError("failed to release job lock", err)
	}
	return nil
}
