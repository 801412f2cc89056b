package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// PutMetricData accepts at most this many datums per call.
const maxDatumsPerCall = 1000

// Datum is a single metric value with its dimensions.
type Datum struct {
	Name       string
	Value      float64
	Unit       cwtypes.StandardUnit
	Dimensions map[string]string
}

// MetricPublisher publishes custom metrics to one CloudWatch namespace.
type MetricPublisher struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	nowFunc    func() time.Time
}

// NewMetricPublisher returns a MetricPublisher for namespace.
func NewMetricPublisher(client CloudWatchAPI, namespace string) *MetricPublisher {
	return &MetricPublisher{
		CloudWatch: client,
		Namespace:  namespace,
		nowFunc:    time.Now,
	}
}

// Publish sends datums, splitting them into as many calls as needed.
func (m *MetricPublisher) Publish(ctx context.Context, datums []Datum) error {
	now := m.nowFunc()
	for start := 0; start < len(datums); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(datums) {
			end = len(datums)
		}

		data := make([]cwtypes.MetricDatum, 0, end-start)
		for _, d := range datums[start:end] {
			md := cwtypes.MetricDatum{
				MetricName: awsString(d.Name),
				Value:      awsFloat64(d.Value),
				Unit:       d.Unit,
				Timestamp:  &now,
			}
			for k, v := range d.Dimensions {
				md.Dimensions = append(md.Dimensions, cwtypes.Dimension{Name: awsString(k), Value: awsString(v)})
			}
			data = append(data, md)
		}

		_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &m.Namespace,
			MetricData: data,
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

func awsFloat64(f float64) *float64 { return &f }
