// Package types holds the domain model shared by the store, queue, worker and
// API layers: jobs, queue entries, targets, errors and the narrow interfaces
// that connect them.
package types

import "time"

// JobStatus is the lifecycle state of a feedback job.
type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusSent      JobStatus = "sent"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusScheduled, JobStatusSent, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Transaction is the validated inbound payload describing a completed sale.
// CustomerPhone is already normalized to E.164 by the boundary layer.
type Transaction struct {
	TransactionID          string
	CustomerID             string
	CustomerFirstName      string
	CustomerPhone          string
	SalesRepName           string
	TransactionCompletedAt time.Time
}

// Job is the durable record of one scheduled feedback message.
type Job struct {
	ID                     int64      `json:"id"`
	TransactionID          string     `json:"transactionId"`
	CustomerID             string     `json:"customerId"`
	CustomerFirstName      string     `json:"customerFirstName"`
	CustomerPhone          string     `json:"customerPhone"`
	SalesRepName           string     `json:"salesRepName"`
	TransactionCompletedAt time.Time  `json:"transactionCompletedAt"`
	Status                 JobStatus  `json:"status"`
	ScheduledAt            time.Time  `json:"scheduledAt"`
	SentAt                 *time.Time `json:"sentAt,omitempty"`
	ErrorMessage           *string    `json:"errorMessage,omitempty"`
	RetryCount             int        `json:"retryCount"`
	ReviewPlatform         *string    `json:"reviewPlatform,omitempty"`
	ReviewLink             *string    `json:"reviewLink,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// IsTerminal reports whether the job can no longer be delivered given the
// attempt ceiling of its queue entry. A failed job is only terminal once its
// retry count has reached maxAttempts.
func (j *Job) IsTerminal(maxAttempts int) bool {
	switch j.Status {
	case JobStatusSent, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return j.RetryCount >= maxAttempts
	}
	return false
}

// NewJobFromTransaction builds a scheduled Job for tx released at scheduledAt.
func NewJobFromTransaction(tx Transaction, scheduledAt time.Time) *Job {
	return &Job{
		TransactionID:          tx.TransactionID,
		CustomerID:             tx.CustomerID,
		CustomerFirstName:      tx.CustomerFirstName,
		CustomerPhone:          tx.CustomerPhone,
		SalesRepName:           tx.SalesRepName,
		TransactionCompletedAt: tx.TransactionCompletedAt,
		Status:                 JobStatusScheduled,
		ScheduledAt:            scheduledAt,
	}
}

// JobHandle is returned by the scheduler. It is identical whether the job was
// newly created or already existed.
type JobHandle struct {
	EntryID       string    `json:"jobId"`
	TransactionID string    `json:"transactionId"`
	ScheduledAt   time.Time `json:"scheduledAt"`
}

// BulkRetryResult counts what one bulk retry pass did with each failed job.
// Skipped jobs still had automatic retries pending or changed state.
type BulkRetryResult struct {
	Considered int `json:"considered"`
	Retried    int `json:"retried"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Target is one configured review platform.
type Target struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Weight int    `json:"weight"`
}

// JobStatusCounts holds the number of jobs per terminal status.
type JobStatusCounts struct {
	Sent      int
	Failed    int
	Cancelled int
}

// QueueStats is the aggregate pipeline view exposed for observability.
type QueueStats struct {
	PendingNotDue int `json:"pendingNotDue"`
	DueNotClaimed int `json:"dueNotClaimed"`
	InFlight      int `json:"inFlight"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Cancelled     int `json:"cancelled"`
}
