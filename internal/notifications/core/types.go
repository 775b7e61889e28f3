// Package core is the delivery side of the feedback pipeline: it turns due
// queue entries into sent text messages, records the outcome on the job and
// reports it to metrics and event sinks.
package core

import (
	"context"
	"time"

	"reviewsms/internal/types"
)

// OutcomeRecorder receives one DeliveryOutcome per processed queue entry.
// Implementations must not block delivery; failures are logged, not returned.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome types.DeliveryOutcome)
}

// DeliveryMetrics abstracts the telemetry sink for the delivery pipeline.
type DeliveryMetrics interface {
	RecordDelivery(ctx context.Context, platform string, result types.DeliveryResult)
	RecordLatency(ctx context.Context, platform string, d time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// OutcomePublisher ships outcomes to an external event stream.
type OutcomePublisher interface {
	Publish(ctx context.Context, outcome types.DeliveryOutcome) error
}

// PublishingRecorder adapts an OutcomePublisher into an OutcomeRecorder.
type PublishingRecorder struct {
	publisher OutcomePublisher
	logger    types.Logger
}

// NewPublishingRecorder wraps p. Publish errors are logged at warn level.
func NewPublishingRecorder(p OutcomePublisher, logger types.Logger) *PublishingRecorder {
	return &PublishingRecorder{publisher: p, logger: logger}
}

func (r *PublishingRecorder) RecordOutcome(ctx context.Context, outcome types.DeliveryOutcome) {
	if err := r.publisher.Publish(ctx, outcome); err != nil {
		r.logger.Warn("failed to publish delivery outcome",
			"transaction_id", outcome.TransactionID,
			"result", string(outcome.Result),
			"error", err,
		)
	}
}

// MetricsRecorder adapts DeliveryMetrics into an OutcomeRecorder.
type MetricsRecorder struct {
	metrics DeliveryMetrics
}

// NewMetricsRecorder wraps m.
func NewMetricsRecorder(m DeliveryMetrics) *MetricsRecorder {
	return &MetricsRecorder{metrics: m}
}

func (r *MetricsRecorder) RecordOutcome(ctx context.Context, o types.DeliveryOutcome) {
	r.metrics.RecordDelivery(ctx, o.Platform, o.Result)
	if o.Result == types.DeliveryResultSkipped {
		return
	}
	r.metrics.RecordLatency(ctx, o.Platform, o.Latency)
	r.metrics.RecordQueueLag(ctx, o.QueueLag)
}
