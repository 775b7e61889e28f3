package types

import (
	"context"
	"time"
)

// Logger defines the structured logging interface used throughout the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// JobRepository is the Job Store contract. Every mutation is a single atomic
// statement; there is no read-then-write sequence across calls.
type JobRepository interface {
	// InsertIfAbsent stores job unless a job with the same TransactionID
	// exists. It reports whether a row was inserted.
	InsertIfAbsent(ctx context.Context, job *Job) (bool, error)

	GetByTransactionID(ctx context.Context, transactionID string) (*Job, error)

	// MarkSent sets status, sent_at, review_platform and review_link in one
	// update guarded by a non-terminal status. Returns false if the guard
	// did not match.
	MarkSent(ctx context.Context, transactionID, platform, link string, sentAt time.Time) (bool, error)

	// MarkFailed records the error and increments retry_count, guarded by a
	// non-terminal status.
	MarkFailed(ctx context.Context, transactionID, errMsg string) (bool, error)

	// MarkCancelled moves a non-terminal job to cancelled.
	MarkCancelled(ctx context.Context, transactionID string) (bool, error)

	CountByStatus(ctx context.Context) (JobStatusCounts, error)

	// ListDueScheduled returns scheduled jobs whose scheduled_at is at or
	// before cutoff, oldest first.
	ListDueScheduled(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)

	// ListFailed returns failed jobs scheduled at or after since, oldest
	// first.
	ListFailed(ctx context.Context, since time.Time, limit int) ([]*Job, error)
}

// SMSGateway sends one text message and returns the provider message id.
type SMSGateway interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// TargetSelector picks the review platform for a delivery.
type TargetSelector interface {
	Select(ctx context.Context) Target
}
