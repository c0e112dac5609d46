package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
	"github.com/imrishuroy/go-shop-orderflow/internal/cart"
	"github.com/imrishuroy/go-shop-orderflow/internal/catalog"
	"github.com/imrishuroy/go-shop-orderflow/internal/config"
	"github.com/imrishuroy/go-shop-orderflow/internal/handlers"
	"github.com/imrishuroy/go-shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-shop-orderflow/internal/metrics"
	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
	"github.com/imrishuroy/go-shop-orderflow/internal/payments"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
)

func setupRouter(cfg handlers.HandlerConfig, local bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if local {
		r.Use(gin.Logger())
	}
	handlers.RegisterRoutes(r, cfg)
	return r
}

func newHandlerConfig(cfg config.Config, clients *aws.AWSClients) handlers.HandlerConfig {
	counter := metrics.New(clients.CloudWatch, cfg.MetricsNamespace)
	db := store.New(clients.DynamoDB, cfg.TableName)
	cat := catalog.New(db)
	carts := cart.NewService(db, cat)
	repo := orders.NewStore(db)
	engine := orders.NewService(repo, carts, cat, counter)
	gateway := payments.NewMercadoPago(cfg.MercadoPagoBaseURL, cfg.MercadoPagoToken, nil)

	hc := handlers.HandlerConfig{
		Catalog:              cat,
		Carts:                carts,
		Orders:               engine,
		Payments:             payments.NewReducer(gateway, repo, engine, counter),
		Publisher:            aws.NewPublisher(clients.SQS, cfg.PaymentsQueueURL),
		TrustIdentityHeaders: cfg.RunLocal,
	}
	if cfg.IdempotencyTable != "" {
		hc.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	}
	return hc
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background(), aws.ClientOptions{
		Queue:   cfg.PaymentsQueueURL != "",
		Metrics: cfg.MetricsNamespace != "",
	})
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	r := setupRouter(newHandlerConfig(cfg, clients), cfg.RunLocal)

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		log.Printf("running local server on %s", cfg.HTTPAddr)
		if err := r.Run(cfg.HTTPAddr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		// ProxyWithContext keeps the authorizer claims reachable from the request context
		return adapter.ProxyWithContext(ctx, req)
	})
}
