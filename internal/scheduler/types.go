// Package scheduler owns the write side of the feedback pipeline: admitting
// transactions as delayed jobs, cancelling them, manual re-enqueue, and the
// recovery sweep that rebuilds queue entries from the Job Store.
package scheduler

import (
	"context"
	"time"
)

// SweepPayload is the JSON event that triggers a recovery sweep, e.g. from
// an EventBridge schedule:
//
//	{
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type SweepPayload struct {
	// ReferenceTime overrides "now" for manual invocation. If nil,
	// time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// JobLocker is a distributed lock shared by sweeper instances.
type JobLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

// SweepMetrics receives the number of entries a sweep re-enqueued.
type SweepMetrics interface {
	RecordSweepRequeued(ctx context.Context, n int)
}
