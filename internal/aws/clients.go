package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// AWSClients bundles the service clients. SQS and CloudWatch are nil when not requested.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// ClientOptions selects the optional clients.
type ClientOptions struct {
	Queue   bool // payments queue configured
	Metrics bool // metrics namespace configured
}

// NewAWSClients loads AWS config and returns the DynamoDB client plus the optional clients
// selected by opts.
func NewAWSClients(ctx context.Context, opts ClientOptions) (*AWSClients, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	clients := &AWSClients{DynamoDB: dynamodb.NewFromConfig(cfg)}
	if opts.Queue {
		clients.SQS = sqs.NewFromConfig(cfg)
	}
	if opts.Metrics {
		clients.CloudWatch = cloudwatch.NewFromConfig(cfg)
	}
	return clients, nil
}
