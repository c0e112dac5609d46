package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-shop-orderflow/internal/payments"
)

// WebhookProcessor is the reducer surface the worker drives.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, n payments.Notification) payments.Result
}

// Processor drains queued payment notifications through the reducer.
type Processor struct {
	reducer WebhookProcessor
}

// NewProcessor creates a worker processor.
func NewProcessor(reducer WebhookProcessor) *Processor {
	return &Processor{reducer: reducer}
}

// Handle processes an SQS batch. Only retryable failures are reported back, so SQS redelivers
// those messages and deletes the rest.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	log.Printf("[worker] received %d messages", len(ev.Records))
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if p.processMessage(ctx, rec) {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

// processMessage reports whether the message should be retried.
func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) bool {
	n, err := payments.ParseNotification([]byte(rec.Body))
	if err != nil {
		// redelivery cannot fix a malformed body
		log.Printf("[worker] dropping message=%s: %v", rec.MessageId, err)
		return false
	}

	res := p.reducer.ProcessWebhook(ctx, n)
	switch {
	case res.Success:
		log.Printf("[worker] message=%s payment=%s %s", rec.MessageId, n.PaymentID(), res.Action)
		return false
	case res.Retryable:
		log.Printf("[worker] message=%s payment=%s failed (%s), will retry", rec.MessageId, n.PaymentID(), res.Error)
		return true
	default:
		log.Printf("[worker] message=%s payment=%s failed permanently (%s)", rec.MessageId, n.PaymentID(), res.Error)
		return false
	}
}
