package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewsms/internal/notifications/core"
	"reviewsms/internal/queue"
	"reviewsms/internal/rotation"
	"reviewsms/internal/testutil"
	"reviewsms/internal/types"
)

var testConfig = FeedbackConfig{
	Delay:       30 * time.Minute,
	MaxAttempts: 3,
	BackoffBase: time.Minute,
}

type fixture struct {
	clock *testutil.Clock
	jobs  *testutil.JobStore
	queue *queue.MemoryQueue
	sched *FeedbackScheduler
}

func newFixture() *fixture {
	clock := testutil.NewClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	jobs := testutil.NewJobStore(clock.Now)
	q := queue.NewMemoryQueue(5*time.Minute, queue.WithClock(clock.Now))
	return &fixture{
		clock: clock,
		jobs:  jobs,
		queue: q,
		sched: NewFeedbackScheduler(jobs, q, testConfig, nil, WithClock(clock.Now)),
	}
}

func sampleTx(id string) types.Transaction {
	return types.Transaction{
		TransactionID:          id,
		CustomerID:             "cust-1",
		CustomerFirstName:      "Dana",
		CustomerPhone:          "+15551234567",
		SalesRepName:           "Sam Rivera",
		TransactionCompletedAt: time.Date(2026, 5, 4, 8, 59, 0, 0, time.UTC),
	}
}

func TestSchedule_CreatesJobAndEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	h, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, h.EntryID)
	assert.Equal(t, "txn-1", h.TransactionID)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), h.ScheduledAt)

	job, err := f.sched.Job(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusScheduled, job.Status)
	assert.Equal(t, h.ScheduledAt, job.ScheduledAt)
	assert.Equal(t, 0, job.RetryCount)

	stats, err := f.sched.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStats{PendingNotDue: 1}, stats)
}

func TestSchedule_ReplayIsNoOp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	second, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.queue.Len())
}

func TestSchedule_ReplayRepairsMissingEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)
	removed, err := f.queue.Remove(ctx, "txn-1")
	require.NoError(t, err)
	require.True(t, removed)

	second, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ScheduledAt, second.ScheduledAt)
	assert.Equal(t, 1, f.queue.Len())
}

func TestSchedule_ReplayOfSettledJobDoesNotEnqueue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)
	ok, err := f.sched.Cancel(ctx, "txn-1")
	require.NoError(t, err)
	require.True(t, ok)

	h, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)
	assert.Empty(t, h.EntryID)
	assert.Equal(t, 0, f.queue.Len())
}

func TestSchedule_ReplayOfRetryingJobReturnsLiveEntry(t *testing.T) {
	f := newFixture()
	e := newEngine(t, f, &testutil.Gateway{Errors: []error{errors.New("carrier timeout")}})
	ctx := context.Background()

	first, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	out := drain(t, f, e)
	require.Len(t, out, 1)
	require.Equal(t, types.DeliveryResultRetrying, out[0].Result)

	h, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)
	assert.Equal(t, first.EntryID, h.EntryID)
	assert.Equal(t, first.ScheduledAt, h.ScheduledAt)
	assert.Equal(t, 1, f.queue.Len())
}

func TestSchedule_StoreError(t *testing.T) {
	f := newFixture()
	f.jobs.Err = types.NewAppError(types.ErrCodeInternalDB, "down", nil)

	_, err := f.sched.Schedule(context.Background(), sampleTx("txn-1"))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.Equal(t, 0, f.queue.Len())
}

func TestCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)

	ok, err := f.sched.Cancel(ctx, "txn-1")
	require.NoError(t, err)
	assert.True(t, ok)

	job, err := f.sched.Job(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, job.Status)

	ok, err = f.sched.Cancel(ctx, "txn-1")
	require.NoError(t, err)
	assert.False(t, ok, "second cancel finds nothing")

	ok, err = f.sched.Cancel(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancel_ClaimedEntryIsNotCancelled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)
	f.clock.Advance(31 * time.Minute)
	entry, err := f.queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	ok, err := f.sched.Cancel(ctx, "txn-1")
	require.NoError(t, err)
	assert.False(t, ok, "the worker holding the entry may already be sending")
	assert.Equal(t, 1, f.queue.Len())

	// the job itself is cancelled, so a redelivery of the entry is skipped
	job, err := f.sched.Job(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, job.Status)
}

// flakyCancelStore fails the first n MarkCancelled calls.
type flakyCancelStore struct {
	*testutil.JobStore
	n int
}

func (s *flakyCancelStore) MarkCancelled(ctx context.Context, transactionID string) (bool, error) {
	if s.n > 0 {
		s.n--
		return false, types.NewAppError(types.ErrCodeInternalDB, "connection reset", nil)
	}
	return s.JobStore.MarkCancelled(ctx, transactionID)
}

func TestCancel_StoreFailureCanBeRepeated(t *testing.T) {
	f := newFixture()
	store := &flakyCancelStore{JobStore: f.jobs, n: 1}
	sched := NewFeedbackScheduler(store, f.queue, testConfig, nil, WithClock(f.clock.Now))
	ctx := context.Background()

	_, err := sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)

	ok, err := sched.Cancel(ctx, "txn-1")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.False(t, ok)
	assert.Equal(t, 1, f.queue.Len(), "the entry survives a failed cancel")

	ok, err = sched.Cancel(ctx, "txn-1")
	require.NoError(t, err)
	assert.True(t, ok)

	f.clock.Advance(40 * time.Minute)
	sw := NewRecoverySweeper(store, f.queue, &fakeLocker{}, nil, sweepConfig, "sweeper-1", nil)
	requeued, err := sw.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, requeued)

	job, err := sched.Job(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, job.Status)
	assert.Equal(t, 0, f.queue.Len())
}

func TestCancel_AfterSentReturnsFalse(t *testing.T) {
	f := newFixture()
	gw := &testutil.Gateway{}
	e := newEngine(t, f, gw)
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	require.Len(t, drain(t, f, e), 1)

	ok, err := f.sched.Cancel(ctx, "txn-1")
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := f.sched.Job(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSent, job.Status)
	assert.NotNil(t, job.SentAt)
	assert.Equal(t, 1, gw.Calls())
}

func TestCancel_FailedJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// retries pending: the entry is still queued
	f.jobs.Put(&types.Job{TransactionID: "retrying", Status: types.JobStatusFailed, RetryCount: 1})
	_, err := f.queue.Enqueue(ctx, "retrying", f.clock.Now().Add(time.Minute), 3, testConfig.backoff())
	require.NoError(t, err)
	// exhausted: nothing left to cancel
	f.jobs.Put(&types.Job{TransactionID: "exhausted", Status: types.JobStatusFailed, RetryCount: 3})

	ok, err := f.sched.Cancel(ctx, "retrying")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, f.queue.Len())

	ok, err = f.sched.Cancel(ctx, "exhausted")
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := f.sched.Job(ctx, "exhausted")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, job.Status)
}

func TestCancel_StoreError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)

	f.jobs.Err = errors.New("boom")
	_, err = f.sched.Cancel(ctx, "txn-1")
	assert.Error(t, err)
	assert.Equal(t, 1, f.queue.Len())
}

func TestStatus_CombinesQueueAndStore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := f.sched.Schedule(ctx, sampleTx(id))
		require.NoError(t, err)
	}
	f.jobs.Put(&types.Job{TransactionID: "sent-1", Status: types.JobStatusSent})
	f.jobs.Put(&types.Job{TransactionID: "failed-1", Status: types.JobStatusFailed, RetryCount: 3})

	_, err := f.sched.Cancel(ctx, "a")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	_, err = f.queue.Claim(ctx, "w1")
	require.NoError(t, err)

	stats, err := f.sched.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStats{
		DueNotClaimed: 2,
		InFlight:      1,
		Completed:     1,
		Failed:        1,
		Cancelled:     1,
	}, stats)
}

func TestStatus_StoreError(t *testing.T) {
	f := newFixture()
	f.jobs.Err = errors.New("boom")

	_, err := f.sched.Status(context.Background())
	assert.Error(t, err)
}

func TestRetry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.jobs.Put(&types.Job{TransactionID: "txn-f", Status: types.JobStatusFailed, RetryCount: 3})

	h, err := f.sched.Retry(ctx, "txn-f")
	require.NoError(t, err)
	assert.NotEmpty(t, h.EntryID)
	assert.Equal(t, f.clock.Now(), h.ScheduledAt)

	entry, err := f.queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 6, entry.MaxAttempts)

	_, err = f.sched.Retry(ctx, "txn-f")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictJobQueued, appErr.Code)
}

func TestRetry_RejectsNonFailedJobs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.sched.Schedule(ctx, sampleTx("txn-1"))
	require.NoError(t, err)

	_, err = f.sched.Retry(ctx, "txn-1")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictJobState, appErr.Code)

	_, err = f.sched.Retry(ctx, "missing")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundJob, appErr.Code)
}

// failOnEnqueue fails Enqueue for one job id.
type failOnEnqueue struct {
	*queue.MemoryQueue
	jobID string
}

func (q *failOnEnqueue) Enqueue(ctx context.Context, jobID string, dueAt time.Time, maxAttempts int, backoff types.BackoffPolicy) (string, error) {
	if jobID == q.jobID {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "queue unavailable", nil)
	}
	return q.MemoryQueue.Enqueue(ctx, jobID, dueAt, maxAttempts, backoff)
}

func TestRetryFailed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := f.clock.Now()

	f.jobs.Put(&types.Job{TransactionID: "old", Status: types.JobStatusFailed, RetryCount: 3, ScheduledAt: now.Add(-48 * time.Hour)})
	f.jobs.Put(&types.Job{TransactionID: "exhausted-1", Status: types.JobStatusFailed, RetryCount: 3, ScheduledAt: now.Add(-2 * time.Hour)})
	f.jobs.Put(&types.Job{TransactionID: "exhausted-2", Status: types.JobStatusFailed, RetryCount: 3, ScheduledAt: now.Add(-time.Hour)})
	f.jobs.Put(&types.Job{TransactionID: "retrying", Status: types.JobStatusFailed, RetryCount: 1, ScheduledAt: now.Add(-30 * time.Minute)})
	_, err := f.queue.Enqueue(ctx, "retrying", now.Add(time.Minute), 3, testConfig.backoff())
	require.NoError(t, err)
	f.jobs.Put(&types.Job{TransactionID: "sent", Status: types.JobStatusSent, ScheduledAt: now.Add(-time.Hour)})

	q := &failOnEnqueue{MemoryQueue: f.queue, jobID: "exhausted-2"}
	sched := NewFeedbackScheduler(f.jobs, q, testConfig, nil, WithClock(f.clock.Now))

	res, err := sched.RetryFailed(ctx, now.Add(-24*time.Hour), 50)
	require.NoError(t, err)
	assert.Equal(t, types.BulkRetryResult{Considered: 3, Retried: 1, Skipped: 1, Failed: 1}, res)

	ok, err := f.queue.Contains(ctx, "exhausted-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.queue.Contains(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok, "jobs before the window are left alone")
}

func TestRetryFailed_Limit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		f.jobs.Put(&types.Job{TransactionID: id, Status: types.JobStatusFailed, RetryCount: 3,
			ScheduledAt: f.clock.Now().Add(time.Duration(i) * time.Minute)})
	}

	res, err := f.sched.RetryFailed(ctx, time.Time{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Retried)
	assert.Equal(t, 2, f.queue.Len())

	ok, _ := f.queue.Contains(ctx, "c")
	assert.False(t, ok, "oldest first")
}

func TestRetryFailed_ListError(t *testing.T) {
	f := newFixture()
	f.jobs.Err = errors.New("boom")

	_, err := f.sched.RetryFailed(context.Background(), time.Time{}, 10)
	assert.Error(t, err)
}

// The scenarios below run the scheduler and the delivery engine together
// over the in-memory store and queue.

func newEngine(t *testing.T, f *fixture, gw types.SMSGateway) *core.Engine {
	t.Helper()
	sel, err := rotation.NewService([]types.Target{
		{Name: "google", URL: "https://g.example/review", Weight: 1},
		{Name: "trustpilot", URL: "https://tp.example/review", Weight: 1},
	}, nil, rotation.StrategyRoundRobin, nil)
	require.NoError(t, err)
	return core.NewEngine(core.EngineDeps{
		Jobs:    f.jobs,
		Queue:   f.queue,
		Targets: sel,
		Gateway: gw,
	}, core.EngineConfig{}, core.WithEngineClock(f.clock.Now))
}

// drain processes every entry that is due right now.
func drain(t *testing.T, f *fixture, e *core.Engine) []types.DeliveryOutcome {
	t.Helper()
	var out []types.DeliveryOutcome
	for {
		entry, err := f.queue.Claim(context.Background(), "w-e2e")
		require.NoError(t, err)
		if entry == nil {
			return out
		}
		out = append(out, e.Process(context.Background(), entry))
	}
}

func TestScenario_DeliveredAfterDelay(t *testing.T) {
	f := newFixture()
	gw := &testutil.Gateway{}
	e := newEngine(t, f, gw)
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, sampleTx("txn-a"))
	require.NoError(t, err)
	_, err = f.sched.Schedule(ctx, sampleTx("txn-a"))
	require.NoError(t, err)

	f.clock.Advance(29 * time.Minute)
	assert.Empty(t, drain(t, f, e), "nothing is due before the delay")

	f.clock.Advance(time.Minute)
	out := drain(t, f, e)
	require.Len(t, out, 1)
	assert.Equal(t, types.DeliveryResultSent, out[0].Result)

	job, err := f.sched.Job(ctx, "txn-a")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSent, job.Status)
	assert.Equal(t, "google", *job.ReviewPlatform)
	assert.Equal(t, 1, gw.Calls())

	stats, err := f.sched.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStats{Completed: 1}, stats)
}

func TestScenario_ZeroDelaySendsOnFirstCycle(t *testing.T) {
	f := newFixture()
	cfg := testConfig
	cfg.Delay = 0
	f.sched = NewFeedbackScheduler(f.jobs, f.queue, cfg, nil, WithClock(f.clock.Now))
	gw := &testutil.Gateway{}
	e := newEngine(t, f, gw)
	ctx := context.Background()

	h, err := f.sched.Schedule(ctx, sampleTx("T1"))
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), h.ScheduledAt)

	out := drain(t, f, e)
	require.Len(t, out, 1)
	assert.Equal(t, types.DeliveryResultSent, out[0].Result)
	assert.Equal(t, "google", out[0].Platform)

	job, err := f.sched.Job(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSent, job.Status)
	require.NotNil(t, job.ReviewPlatform)
	assert.Equal(t, "google", *job.ReviewPlatform)
	assert.Equal(t, 1, gw.Calls())
	assert.Equal(t, 0, f.queue.Len())
}

func TestScenario_CancelledBeforeRelease(t *testing.T) {
	f := newFixture()
	gw := &testutil.Gateway{}
	e := newEngine(t, f, gw)
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, sampleTx("txn-c"))
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	ok, err := f.sched.Cancel(ctx, "txn-c")
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(time.Hour)
	assert.Empty(t, drain(t, f, e))
	assert.Equal(t, 0, gw.Calls())

	job, err := f.sched.Job(ctx, "txn-c")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, job.Status)
}

func TestScenario_ManualRetryAfterExhaustion(t *testing.T) {
	f := newFixture()
	fail := errors.New("carrier rejected")
	gw := &testutil.Gateway{Errors: []error{fail, fail, fail}}
	e := newEngine(t, f, gw)
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, sampleTx("txn-m"))
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	for i := 0; i < 3; i++ {
		drain(t, f, e)
		f.clock.Advance(10 * time.Minute)
	}
	job, err := f.sched.Job(ctx, "txn-m")
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, job.Status)
	require.Equal(t, 3, job.RetryCount)

	_, err = f.sched.Retry(ctx, "txn-m")
	require.NoError(t, err)

	out := drain(t, f, e)
	require.Len(t, out, 1)
	assert.Equal(t, types.DeliveryResultSent, out[0].Result)

	job, err = f.sched.Job(ctx, "txn-m")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSent, job.Status)
	assert.Equal(t, 3, job.RetryCount)
}
