package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"

	"github.com/shivam349/codex1/internal/aws"
	"github.com/shivam349/codex1/internal/orders"
)

const emitTimeout = 3 * time.Second

// CloudWatchRecorder publishes order events as custom CloudWatch metrics.
// Emission is asynchronous and best effort; failures are logged.
type CloudWatchRecorder struct {
	client    aws.CloudWatchAPI
	namespace string
	log       logrus.FieldLogger
	wg        sync.WaitGroup
}

func NewCloudWatchRecorder(client aws.CloudWatchAPI, namespace string, log logrus.FieldLogger) *CloudWatchRecorder {
	return &CloudWatchRecorder{client: client, namespace: namespace, log: log}
}

func (r *CloudWatchRecorder) OrderPlaced(ctx context.Context, o orders.Order) {
	r.emit(ctx,
		datum("OrdersPlaced", 1, cwtypes.StandardUnitCount),
		datum("OrderRevenue", o.TotalAmount, cwtypes.StandardUnitNone),
	)
}

func (r *CloudWatchRecorder) OrderRejected(ctx context.Context, reason string) {
	d := datum("OrdersRejected", 1, cwtypes.StandardUnitCount)
	d.Dimensions = []cwtypes.Dimension{{Name: awsString("Reason"), Value: awsString(reason)}}
	r.emit(ctx, d)
}

// Flush waits for in-flight emissions. Call before a Lambda invocation returns.
func (r *CloudWatchRecorder) Flush() {
	r.wg.Wait()
}

func (r *CloudWatchRecorder) emit(ctx context.Context, data ...cwtypes.MetricDatum) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &r.namespace,
			MetricData: data,
		})
		if err != nil {
			r.log.WithError(fmt.Errorf("put metric data: %w", err)).Warn("cloudwatch emit failed")
		}
	}()
}

func datum(name string, value float64, unit cwtypes.StandardUnit) cwtypes.MetricDatum {
	now := time.Now()
	return cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       unit,
		Timestamp:  &now,
	}
}

func awsString(s string) *string { return &s }
