// Package queue provides the in-process Delay Queue and the polling helper
// workers use to wait for due entries.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"reviewsms/internal/types"
)

// MemoryQueue is a single-process DelayQueue. It honors the same lease and
// retry semantics as the Postgres queue but loses state on restart, so it is
// meant for local runs and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*types.QueueEntry // by entry id
	byJob   map[string]string            // job id -> entry id
	lease   time.Duration
	now     func() time.Time
}

var _ types.DelayQueue = (*MemoryQueue)(nil)

// Option configures a MemoryQueue.
type Option func(*MemoryQueue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *MemoryQueue) { q.now = now }
}

// NewMemoryQueue creates an empty queue whose claims expire after lease.
func NewMemoryQueue(lease time.Duration, opts ...Option) *MemoryQueue {
	q := &MemoryQueue{
		entries: make(map[string]*types.QueueEntry),
		byJob:   make(map[string]string),
		lease:   lease,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobID string, dueAt time.Time, maxAttempts int, backoff types.BackoffPolicy) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.byJob[jobID]; ok {
		return id, nil
	}

	e := &types.QueueEntry{
		ID:          uuid.NewString(),
		JobID:       jobID,
		DueAt:       dueAt,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		EnqueuedAt:  q.now(),
	}
	q.entries[e.ID] = e
	q.byJob[jobID] = e.ID
	return e.ID, nil
}

func (q *MemoryQueue) Claim(_ context.Context, workerID string) (*types.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var pick *types.QueueEntry
	for _, e := range q.entries {
		if e.DueAt.After(now) || leased(e, now) {
			continue
		}
		if pick == nil || e.DueAt.Before(pick.DueAt) {
			pick = e
		}
	}
	if pick == nil {
		return nil, nil
	}

	until := now.Add(q.lease)
	pick.ClaimedBy = workerID
	pick.ClaimedUntil = &until

	out := *pick
	return &out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, entryID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[entryID]
	if !ok || e.ClaimedBy != workerID {
		return types.ErrLeaseLost
	}
	q.drop(entryID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, entryID, workerID string) (bool, time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[entryID]
	if !ok || e.ClaimedBy != workerID {
		return false, time.Time{}, types.ErrLeaseLost
	}
	if e.Attempt+1 >= e.MaxAttempts {
		q.drop(entryID)
		return false, time.Time{}, nil
	}

	e.DueAt = q.now().Add(e.Backoff.Delay(e.Attempt))
	e.Attempt++
	e.ClaimedBy = ""
	e.ClaimedUntil = nil
	return true, e.DueAt, nil
}

func (q *MemoryQueue) Remove(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.byJob[jobID]
	if !ok || leased(q.entries[id], q.now()) {
		return false, nil
	}
	q.drop(id)
	return true, nil
}

func (q *MemoryQueue) Contains(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byJob[jobID]
	return ok, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (types.QueueCounts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var c types.QueueCounts
	for _, e := range q.entries {
		switch {
		case leased(e, now):
			c.InFlight++
		case e.DueAt.After(now):
			c.PendingNotDue++
		default:
			c.DueNotClaimed++
		}
	}
	return c, nil
}

// Len returns the number of live entries.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// drop must be called with mu held.
func (q *MemoryQueue) drop(entryID string) {
	if e, ok := q.entries[entryID]; ok {
		delete(q.byJob, e.JobID)
		delete(q.entries, entryID)
	}
}

func leased(e *types.QueueEntry, now time.Time) bool {
	return e.ClaimedUntil != nil && !e.ClaimedUntil.Before(now)
}
