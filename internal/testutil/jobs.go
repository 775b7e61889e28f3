// Package testutil provides in-memory stand-ins for the Job Store, the SMS
// gateway and the clock so that scheduler and worker behavior can be
// exercised end to end without Postgres or Twilio.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"reviewsms/internal/types"
)

// JobStore is an in-memory types.JobRepository with the same guard semantics
// as the Postgres repository.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[string]*types.Job
	nextID int64
	Now    func() time.Time

	// Err, when set, is returned by every method.
	Err error
}

var _ types.JobRepository = (*JobStore)(nil)

// NewJobStore creates an empty store using clock for timestamps.
func NewJobStore(clock func() time.Time) *JobStore {
	if clock == nil {
		clock = time.Now
	}
	return &JobStore{jobs: make(map[string]*types.Job), Now: clock}
}

func (s *JobStore) InsertIfAbsent(_ context.Context, job *types.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.jobs[job.TransactionID]; ok {
		return false, nil
	}
	s.nextID++
	j := *job
	j.ID = s.nextID
	j.Status = types.JobStatusScheduled
	j.CreatedAt = s.Now()
	j.UpdatedAt = j.CreatedAt
	s.jobs[job.TransactionID] = &j
	return true, nil
}

func (s *JobStore) GetByTransactionID(_ context.Context, transactionID string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	j, ok := s.jobs[transactionID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "feedback job not found", nil)
	}
	out := *j
	return &out, nil
}

func (s *JobStore) MarkSent(_ context.Context, transactionID, platform, link string, sentAt time.Time) (bool, error) {
	return s.update(transactionID, func(j *types.Job) {
		j.Status = types.JobStatusSent
		j.SentAt = &sentAt
		j.ReviewPlatform = &platform
		j.ReviewLink = &link
	})
}

func (s *JobStore) MarkFailed(_ context.Context, transactionID, errMsg string) (bool, error) {
	return s.update(transactionID, func(j *types.Job) {
		j.Status = types.JobStatusFailed
		j.ErrorMessage = &errMsg
		j.RetryCount++
	})
}

func (s *JobStore) MarkCancelled(_ context.Context, transactionID string) (bool, error) {
	return s.update(transactionID, func(j *types.Job) {
		j.Status = types.JobStatusCancelled
	})
}

func (s *JobStore) CountByStatus(context.Context) (types.JobStatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.JobStatusCounts{}, s.Err
	}
	var c types.JobStatusCounts
	for _, j := range s.jobs {
		switch j.Status {
		case types.JobStatusSent:
			c.Sent++
		case types.JobStatusFailed:
			c.Failed++
		case types.JobStatusCancelled:
			c.Cancelled++
		}
	}
	return c, nil
}

func (s *JobStore) ListDueScheduled(_ context.Context, cutoff time.Time, limit int) ([]*types.Job, error) {
	return s.list(limit, func(j *types.Job) bool {
		return j.Status == types.JobStatusScheduled && !j.ScheduledAt.After(cutoff)
	})
}

func (s *JobStore) ListFailed(_ context.Context, since time.Time, limit int) ([]*types.Job, error) {
	return s.list(limit, func(j *types.Job) bool {
		return j.Status == types.JobStatusFailed && !j.ScheduledAt.Before(since)
	})
}

func (s *JobStore) list(limit int, match func(*types.Job) bool) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*types.Job
	for _, j := range s.jobs {
		if match(j) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ScheduledAt.Before(out[b].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Put stores job as-is, bypassing InsertIfAbsent.
func (s *JobStore) Put(job *types.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := *job
	s.jobs[job.TransactionID] = &j
}

// update applies fn only to scheduled or failed jobs.
func (s *JobStore) update(transactionID string, fn func(*types.Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	j, ok := s.jobs[transactionID]
	if !ok || (j.Status != types.JobStatusScheduled && j.Status != types.JobStatusFailed) {
		return false, nil
	}
	fn(j)
	j.UpdatedAt = s.Now()
	return true, nil
}
