package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
	"github.com/imrishuroy/go-shop-orderflow/internal/cart"
	"github.com/imrishuroy/go-shop-orderflow/internal/catalog"
	"github.com/imrishuroy/go-shop-orderflow/internal/config"
	"github.com/imrishuroy/go-shop-orderflow/internal/metrics"
	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
	"github.com/imrishuroy/go-shop-orderflow/internal/payments"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	clients, err := aws.NewAWSClients(context.Background(), aws.ClientOptions{
		Metrics: cfg.MetricsNamespace != "",
	})
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	counter := metrics.New(clients.CloudWatch, cfg.MetricsNamespace)
	db := store.New(clients.DynamoDB, cfg.TableName)
	cat := catalog.New(db)
	repo := orders.NewStore(db)
	engine := orders.NewService(repo, cart.NewService(db, cat), cat, counter)
	gateway := payments.NewMercadoPago(cfg.MercadoPagoBaseURL, cfg.MercadoPagoToken, nil)
	p := NewProcessor(payments.NewReducer(gateway, repo, engine, counter))

	// RUN_LOCAL=true processes a single message from LOCAL_SQS_BODY and exits.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			log.Fatalf("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
		}
		resp, err := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		if len(resp.BatchItemFailures) > 0 {
			log.Fatalf("local message failed and would be retried")
		}
		return
	}

	lambda.Start(p.Handle)
}
