// Package metrics publishes business counters to CloudWatch.
package metrics

import (
	"context"
	"log"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
)

// Counter names.
const (
	OrdersCreated    = "OrdersCreated"
	OrdersCancelled  = "OrdersCancelled"
	PaymentsApproved = "PaymentsApproved"
	PaymentsRejected = "PaymentsRejected"
	StockConflicts   = "StockConflicts"
	WebhookErrors    = "WebhookErrors"
)

// Counter records occurrences of named events.
type Counter interface {
	Incr(ctx context.Context, name string)
}

// Nop discards every count.
type Nop struct{}

func (Nop) Incr(context.Context, string) {}

// CloudWatch sends one datum per Incr. A failed put is logged and otherwise ignored; metrics
// never fail a request.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
}

// New returns a CloudWatch counter, or Nop when client or namespace is missing.
func New(client aws.CloudWatchAPI, namespace string) Counter {
	if client == nil || namespace == "" {
		return Nop{}
	}
	return &CloudWatch{client: client, namespace: namespace}
}

func (c *CloudWatch) Incr(ctx context.Context, name string) {
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &c.namespace,
		MetricData: []cwtypes.MetricDatum{{
			MetricName: sdkaws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(1),
		}},
	})
	if err != nil {
		log.Printf("[metrics] put %s: %v", name, err)
	}
}
