package types

import "time"

// DeliveryResult is the outcome of one processing attempt.
type DeliveryResult string

const (
	DeliveryResultSent      DeliveryResult = "sent"
	DeliveryResultRetrying  DeliveryResult = "retrying"
	DeliveryResultExhausted DeliveryResult = "exhausted"
	DeliveryResultSkipped   DeliveryResult = "skipped"
	// DeliveryResultSentUnrecorded means the SMS went out but the job had
	// already left a sendable state, so its status was left alone.
	DeliveryResultSentUnrecorded DeliveryResult = "sent_unrecorded"
)

// DeliveryOutcome is emitted by the worker after every processed entry. It is
// the payload published to the outcome event stream.
type DeliveryOutcome struct {
	TransactionID     string         `json:"transaction_id"`
	EntryID           string         `json:"entry_id"`
	Result            DeliveryResult `json:"result"`
	Attempt           int            `json:"attempt"`
	Platform          string         `json:"platform,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Error             string         `json:"error,omitempty"`
	NextAttemptAt     *time.Time     `json:"next_attempt_at,omitempty"`
	Latency           time.Duration  `json:"latency_ns"`
	QueueLag          time.Duration  `json:"queue_lag_ns"`
	OccurredAt        time.Time      `json:"occurred_at"`
}

// TestSMS is an operator-initiated message sent outside the pipeline. It is
// never stored and never queued.
type TestSMS struct {
	Phone             string
	CustomerFirstName string
	SalesRepName      string
	// Platform names the target whose link is used. Empty means the first
	// configured target.
	Platform string
}

// TestSMSResult describes a sent TestSMS.
type TestSMSResult struct {
	ProviderMessageID string `json:"providerMessageId"`
	Platform          string `json:"platform"`
	Body              string `json:"body"`
}
