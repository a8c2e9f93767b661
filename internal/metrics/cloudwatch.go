package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"subsync/internal/billing"
	"subsync/internal/types"
)

const (
	MetricSubscriptionEvent = "SubscriptionEvent"
	MetricStoreConflict     = "StoreConflict"
	MetricApplyLatency      = "SubscriptionApplyLatency"

	DimKind    = "Kind"
	DimOutcome = "Outcome"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ billing.Metrics = (*CloudWatch)(nil)

// CloudWatch emits reconciliation metrics from the queue worker, where no
// scrape endpoint exists. Publishing failures are logged and dropped.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	timeout   time.Duration
}

func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger, timeout: 2 * time.Second}
}

func (m *CloudWatch) RecordEvent(kind types.EventKind, outcome billing.Outcome) {
	m.put(cwtypes.MetricDatum{
		MetricName: aws.String(MetricSubscriptionEvent),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimKind), Value: aws.String(string(kind))},
			{Name: aws.String(DimOutcome), Value: aws.String(string(outcome))},
		},
	})
}

func (m *CloudWatch) RecordConflict(kind types.EventKind) {
	m.put(cwtypes.MetricDatum{
		MetricName: aws.String(MetricStoreConflict),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimKind), Value: aws.String(string(kind))},
		},
	})
}

// ObserveApply records latency in milliseconds for CloudWatch precision.
func (m *CloudWatch) ObserveApply(kind types.EventKind, d time.Duration) {
	m.put(cwtypes.MetricDatum{
		MetricName: aws.String(MetricApplyLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimKind), Value: aws.String(string(kind))},
		},
	})
}

func (m *CloudWatch) put(datum cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.Error("failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}
