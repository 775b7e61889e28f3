package db

import (
	"context"
	"fmt"
)

// DefaultRotationKey is the counter row shared by every worker instance.
const DefaultRotationKey = "sms:review:rotation:index"

// RotationCounterRepository keeps the round-robin index in rotation_counters
// so that all worker processes share one sequence.
type RotationCounterRepository struct {
	db  DBTX
	key string
}

// NewRotationCounterRepository creates a counter stored under key.
func NewRotationCounterRepository(db DBTX, key string) *RotationCounterRepository {
	if key == "" {
		key = DefaultRotationKey
	}
	return &RotationCounterRepository{db: db, key: key}
}

// Next advances the counter to (i+1) mod n and returns i, all in one
// statement. The first call for a key returns 0.
func (r *RotationCounterRepository) Next(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("rotation counter: target count must be positive, got %d", n)
	}

	var idx int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO rotation_counters (key, value, updated_at)
		 VALUES ($1, 1 % $2::bigint, NOW())
		 ON CONFLICT (key) DO UPDATE
		   SET value = (rotation_counters.value + 1) % $2::bigint,
		       updated_at = NOW()
		 RETURNING (value + $2::bigint - 1) % $2::bigint`,
		r.key, int64(n),
	).Scan(&idx)
	if err != nil {
		return 0, dbError("failed to advance rotation counter", err)
	}
	return int(idx), nil
}
