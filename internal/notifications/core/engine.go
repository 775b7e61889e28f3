package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reviewsms/internal/queue"
	"reviewsms/internal/types"
)

// EngineConfig tunes the worker pool.
type EngineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	DrainTimeout   time.Duration
	GatewayTimeout time.Duration

	// WorkerID prefixes the claim owner of each loop. A random id is used
	// when empty.
	WorkerID string
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = queue.DefaultPollInterval
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 10 * time.Second
	}
	if c.WorkerID == "" {
		c.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	return c
}

// EngineDeps are the collaborators of an Engine. Recorders may be empty.
type EngineDeps struct {
	Jobs      types.JobRepository
	Queue     types.DelayQueue
	Targets   types.TargetSelector
	Gateway   types.SMSGateway
	Formatter *Formatter
	Recorders []OutcomeRecorder
	Logger    types.Logger
}

// Engine runs the claim, send, record loop over the Delay Queue.
type Engine struct {
	deps EngineDeps
	cfg  EngineConfig
	now  func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the time source used for sent_at and latency.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. Missing Formatter and Logger get defaults.
func NewEngine(deps EngineDeps, cfg EngineConfig, opts ...EngineOption) *Engine {
	if deps.Formatter == nil {
		deps.Formatter = NewFormatter("")
	}
	if deps.Logger == nil {
		deps.Logger = types.NopLogger{}
	}
	e := &Engine{deps: deps, cfg: cfg.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts Concurrency independent loops and blocks until ctx is done and
// every in-flight entry has been settled or the drain timeout elapsed.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", e.cfg.WorkerID, i)
		g.Go(func() error {
			e.runWorker(gctx, workerID)
			return nil
		})
	}
	e.deps.Logger.Info("delivery engine started",
		"workers", e.cfg.Concurrency,
		"worker_id", e.cfg.WorkerID,
	)
	err := g.Wait()
	e.deps.Logger.Info("delivery engine stopped")
	return err
}

func (e *Engine) runWorker(ctx context.Context, workerID string) {
	log := e.deps.Logger.With("worker", workerID)
	for {
		entry, err := queue.WaitForClaim(ctx, e.deps.Queue, workerID, e.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to claim queue entry", "error", err)
			if !sleepCtx(ctx, e.cfg.PollInterval) {
				return
			}
			continue
		}
		e.processDetached(ctx, entry)
	}
}

// processDetached lets an in-flight entry finish after ctx is cancelled, for
// at most DrainTimeout.
func (e *Engine) processDetached(ctx context.Context, entry *types.QueueEntry) {
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(e.cfg.DrainTimeout, cancel)
	})
	defer stop()

	e.Process(pctx, entry)
}

// Process settles one claimed entry: the job is sent and acked, failed and
// retried, or skipped and acked. It never panics and never returns an error;
// the outcome is returned and reported to every recorder.
func (e *Engine) Process(ctx context.Context, entry *types.QueueEntry) (out types.DeliveryOutcome) {
	start := e.now()
	out = types.DeliveryOutcome{
		TransactionID: entry.JobID,
		EntryID:       entry.ID,
		Attempt:       entry.Attempt + 1,
		QueueLag:      start.Sub(entry.DueAt),
	}
	log := e.deps.Logger.With(
		"transaction_id", entry.JobID,
		"entry_id", entry.ID,
		"attempt", entry.Attempt+1,
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing entry", "panic", r)
			out = e.fail(ctx, log, entry, out, fmt.Errorf("panic: %v", r))
		}
		out.OccurredAt = e.now()
		out.Latency = out.OccurredAt.Sub(start)
		for _, rec := range e.deps.Recorders {
			rec.RecordOutcome(ctx, out)
		}
	}()

	job, err := e.deps.Jobs.GetByTransactionID(ctx, entry.JobID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundJob {
			log.Warn("queue entry has no job, dropping")
			out.Error = "job not found"
			return e.skip(ctx, log, entry, out)
		}
		return e.fail(ctx, log, entry, out, err)
	}
	if job.IsTerminal(entry.MaxAttempts) {
		log.Info("job already settled, dropping entry", "status", string(job.Status))
		return e.skip(ctx, log, entry, out)
	}

	target := e.deps.Targets.Select(ctx)
	out.Platform = target.Name
	body := e.deps.Formatter.Format(job.CustomerFirstName, job.SalesRepName, target.URL)

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	sid, err := e.deps.Gateway.Send(sendCtx, job.CustomerPhone, body)
	cancel()
	if err != nil {
		return e.fail(ctx, log, entry, out, err)
	}
	out.ProviderMessageID = sid

	updated, err := e.deps.Jobs.MarkSent(ctx, job.TransactionID, target.Name, target.URL, e.now().UTC())
	if err != nil {
		return e.fail(ctx, log, entry, out, err)
	}
	e.ack(ctx, log, entry, "delivered")
	if !updated {
		log.Warn("job changed state during delivery, sent status not recorded",
			"platform", target.Name, "sid", sid)
		out.Result = types.DeliveryResultSentUnrecorded
		return out
	}
	out.Result = types.DeliveryResultSent
	log.Info("feedback sms sent", "platform", target.Name, "sid", sid)
	return out
}

func (e *Engine) skip(ctx context.Context, log types.Logger, entry *types.QueueEntry, out types.DeliveryOutcome) types.DeliveryOutcome {
	e.ack(ctx, log, entry, "skipped")
	out.Result = types.DeliveryResultSkipped
	return out
}

func (e *Engine) ack(ctx context.Context, log types.Logger, entry *types.QueueEntry, what string) {
	err := e.deps.Queue.Ack(ctx, entry.ID, entry.ClaimedBy)
	switch {
	case errors.Is(err, types.ErrLeaseLost):
		log.Warn("lease lost before ack, entry left to its new owner", "entry_state", what)
	case err != nil:
		log.Error("failed to ack entry", "entry_state", what, "error", err)
	}
}

// fail records the error on the job and hands the entry back to the queue.
// If the queue drops it, the job stays failed.
func (e *Engine) fail(ctx context.Context, log types.Logger, entry *types.QueueEntry, out types.DeliveryOutcome, cause error) types.DeliveryOutcome {
	out.Error = cause.Error()

	if _, err := e.deps.Jobs.MarkFailed(ctx, entry.JobID, cause.Error()); err != nil {
		log.Error("failed to record delivery failure", "error", err)
	}

	rescheduled, next, err := e.deps.Queue.Retry(ctx, entry.ID, entry.ClaimedBy)
	switch {
	case errors.Is(err, types.ErrLeaseLost):
		log.Warn("delivery failed after lease was lost, entry left to its new owner", "error", cause)
		out.Result = types.DeliveryResultRetrying
	case err != nil:
		log.Error("failed to reschedule entry, lease expiry will redeliver it", "error", err, "cause", cause)
		out.Result = types.DeliveryResultRetrying
	case rescheduled:
		log.Warn("delivery failed, retry scheduled", "error", cause, "next_attempt_at", next)
		out.Result = types.DeliveryResultRetrying
		out.NextAttemptAt = &next
	default:
		log.Error("delivery failed, attempts exhausted", "error", cause)
		out.Result = types.DeliveryResultExhausted
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
