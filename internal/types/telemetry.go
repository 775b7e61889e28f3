package types

// CloudWatch namespace and metric names for the delivery pipeline.
const (
	MetricNamespace = "ReviewSMS"

	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricQueueLag        = "QueueLag"
	MetricSweepRequeued   = "SweepRequeued"
)

// Metric dimension names.
const (
	DimPlatform = "Platform"
	DimResult   = "Result"
)
