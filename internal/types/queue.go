package types

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseLost is returned by Ack and Retry when the caller no longer holds
// the entry's lease. The call changes nothing.
var ErrLeaseLost = errors.New("queue entry lease lost")

// BackoffPolicy describes the exponential delay applied between attempts.
type BackoffPolicy struct {
	Base time.Duration `json:"base"`
}

// Delay returns base * 2^attempt for a 0-indexed attempt number.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d <= 0 {
			return time.Duration(1<<63 - 1)
		}
	}
	return d
}

// QueueEntry is the transient scheduling token for one job. It is a
// projection of the Job Store and may be rebuilt from it.
type QueueEntry struct {
	ID           string
	JobID        string
	DueAt        time.Time
	Attempt      int
	MaxAttempts  int
	Backoff      BackoffPolicy
	ClaimedBy    string
	ClaimedUntil *time.Time
	EnqueuedAt   time.Time
}

// QueueCounts is the queue-side portion of QueueStats.
type QueueCounts struct {
	PendingNotDue int
	DueNotClaimed int
	InFlight      int
}

// DelayQueue is an at-least-once delayed work queue shared by all workers.
//
// Claim hands a due entry to exactly one caller at a time and returns
// (nil, nil) when nothing is due. Ack and Retry only act on an entry still
// claimed by workerID and return ErrLeaseLost otherwise. Retry reschedules
// with backoff, or drops the entry once the attempt ceiling is reached and
// reports rescheduled=false.
// Remove only affects entries that are not currently claimed. Contains reports
// whether any entry, claimed or not, exists for the job.
type DelayQueue interface {
	Enqueue(ctx context.Context, jobID string, dueAt time.Time, maxAttempts int, backoff BackoffPolicy) (string, error)
	Claim(ctx context.Context, workerID string) (*QueueEntry, error)
	Ack(ctx context.Context, entryID, workerID string) error
	Retry(ctx context.Context, entryID, workerID string) (rescheduled bool, nextDue time.Time, err error)
	Remove(ctx context.Context, jobID string) (bool, error)
	Contains(ctx context.Context, jobID string) (bool, error)
	Stats(ctx context.Context) (QueueCounts, error)
}
