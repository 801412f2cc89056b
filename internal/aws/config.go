package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// LoadAWSConfig loads the default AWS configuration. AWS_REGION defaults to
// us-east-1; AWS_ENDPOINT_OVERRIDE points every client at a local emulator.
func LoadAWSConfig(ctx context.Context) (sdkaws.Config, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1" // default fallback
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_OVERRIDE"); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return cfg, nil
}

// NewDynamoDB builds the client behind the dataset and report run stores.
func NewDynamoDB(cfg sdkaws.Config) DynamoDBAPI { return dynamodb.NewFromConfig(cfg) }

// NewSQS builds the client behind Publisher.
func NewSQS(cfg sdkaws.Config) SQSAPI { return sqs.NewFromConfig(cfg) }

// NewCloudWatch builds the client behind MetricPublisher.
func NewCloudWatch(cfg sdkaws.Config) CloudWatchAPI { return cloudwatch.NewFromConfig(cfg) }
