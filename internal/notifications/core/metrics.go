package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"reviewsms/internal/types"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchDeliveryMetrics emits:
//   - DeliveryAttempt {Platform, Result}, count
//   - DeliveryLatency {Platform}, milliseconds
//   - QueueLag, milliseconds between due time and processing start
type CloudWatchDeliveryMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ DeliveryMetrics = (*CloudWatchDeliveryMetrics)(nil)

// NewCloudWatchDeliveryMetrics publishes into namespace, or
// types.MetricNamespace when empty.
func NewCloudWatchDeliveryMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchDeliveryMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchDeliveryMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchDeliveryMetrics) RecordDelivery(ctx context.Context, platform string, result types.DeliveryResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dimension(types.DimPlatform, platformOrUnknown(platform)),
			dimension(types.DimResult, string(result)),
		},
	})
}

func (m *CloudWatchDeliveryMetrics) RecordLatency(ctx context.Context, platform string, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			dimension(types.DimPlatform, platformOrUnknown(platform)),
		},
	})
}

func (m *CloudWatchDeliveryMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

// RecordSweepRequeued counts jobs re-enqueued by the recovery sweep.
func (m *CloudWatchDeliveryMetrics) RecordSweepRequeued(ctx context.Context, n int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricSweepRequeued),
		Value:      aws.Float64(float64(n)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchDeliveryMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.Error("failed to put metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}

func dimension(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func platformOrUnknown(p string) string {
	if p == "" {
		return "unknown"
	}
	return p
}
