package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/imrishuroy/go-sales-reports/internal/aws"
	"github.com/imrishuroy/go-sales-reports/internal/config"
	"github.com/imrishuroy/go-sales-reports/internal/idempotency"
	"github.com/imrishuroy/go-sales-reports/internal/orders"
	"github.com/imrishuroy/go-sales-reports/internal/report"
	"github.com/imrishuroy/go-sales-reports/internal/storage/badger"
	"github.com/imrishuroy/go-sales-reports/internal/storage/dynamo"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx := context.Background()
	awsCfg, err := aws.LoadAWSConfig(ctx)
	if err != nil {
		logger.Error("failed to load aws config", "error", err)
		os.Exit(1)
	}
	var ddb aws.DynamoDBAPI
	if cfg.SalesTable != "" || cfg.RunsTable != "" {
		ddb = aws.NewDynamoDB(awsCfg)
	}

	var store report.Store
	if cfg.SalesTable != "" {
		store = dynamo.NewStore(ddb, cfg.SalesTable, logger)
	} else {
		store, err = badger.Open(badger.Config{Path: cfg.DBPath, SyncWrites: true, Logger: logger})
		if err != nil {
			logger.Error("failed to open dataset store", "error", err)
			os.Exit(1)
		}
	}
	engine := report.New(store,
		report.WithLogger(logger),
		report.WithMetrics(report.NewMetrics(prometheus.DefaultRegisterer)),
	)
	defer engine.Close()

	var runs *idempotency.Store
	if cfg.RunsTable != "" {
		runs = idempotency.NewStore(ddb, cfg.RunsTable, cfg.RunTTL, cfg.RunLease)
	}
	var metrics *aws.MetricPublisher
	if cfg.MetricsNamespace != "" {
		metrics = aws.NewMetricPublisher(aws.NewCloudWatch(awsCfg), cfg.MetricsNamespace)
	}
	p := NewProcessor(engine,
		runs,
		aws.NewPublisher(aws.NewSQS(awsCfg), cfg.QueueURL),
		metrics,
		logger,
	)

	// If RUN_LOCAL=true, run a single scheduled event and exit.
	if cfg.RunLocal {
		if os.Getenv("LOCAL_SEED") == "true" {
			if err := engine.Load(ctx, orders.SeedDataset()); err != nil {
				logger.Error("failed to load seed dataset", "error", err)
				os.Exit(1)
			}
		}
		ev := events.CloudWatchEvent{
			ID:         "local-" + uuid.NewString(),
			DetailType: "Scheduled Event",
			Source:     "local",
			Time:       time.Now().UTC(),
		}
		if err := p.Handle(ctx, ev); err != nil {
			logger.Error("local handler error", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
