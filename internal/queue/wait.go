package queue

import (
	"context"
	"time"

	"reviewsms/internal/types"
)

// DefaultPollInterval is used when WaitForClaim is given a non-positive
// interval.
const DefaultPollInterval = time.Second

// WaitForClaim polls q until an entry is claimed for workerID, Claim fails,
// or ctx is done. On cancellation it returns ctx.Err().
func WaitForClaim(ctx context.Context, q types.DelayQueue, workerID string, pollInterval time.Duration) (*types.QueueEntry, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		entry, err := q.Claim(ctx, workerID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
		timer.Reset(pollInterval)
	}
}
