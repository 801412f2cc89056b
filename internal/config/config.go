// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config is the environment-driven configuration shared by the binaries.
type Config struct {
	// DBPath is the Badger directory. Empty keeps the dataset in memory only.
	DBPath string
	// SalesTable selects the DynamoDB store when set.
	SalesTable string
	// RunsTable records report runs for de-duplication.
	RunsTable string
	// QueueURL receives published reports.
	QueueURL string
	// MetricsNamespace is the CloudWatch namespace for revenue metrics.
	MetricsNamespace string
	// RunTTL is how long run records are kept.
	RunTTL time.Duration
	// RunLease is how long a claimed run is protected from takeover by a
	// redelivered event. Keep it above the Lambda timeout.
	RunLease time.Duration
	LogLevel slog.Level
	// RunLocal runs the Lambda handler once instead of starting the runtime.
	RunLocal bool
}

// FromEnv reads Config from environment variables, applying defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		DBPath:           os.Getenv("SALES_DB_PATH"),
		SalesTable:       os.Getenv("SALES_TABLE"),
		RunsTable:        os.Getenv("REPORT_RUNS_TABLE"),
		QueueURL:         os.Getenv("REPORTS_QUEUE_URL"),
		MetricsNamespace: os.Getenv("METRICS_NAMESPACE"),
		RunTTL:           48 * time.Hour,
		RunLease:         15 * time.Minute,
		RunLocal:         os.Getenv("RUN_LOCAL") == "true",
	}
	if cfg.MetricsNamespace == "" {
		cfg.MetricsNamespace = "SalesReports"
	}

	if v := os.Getenv("REPORT_RUN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("REPORT_RUN_TTL: %w", err)
		}
		cfg.RunTTL = d
	}

	if v := os.Getenv("REPORT_RUN_LEASE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("REPORT_RUN_LEASE: %w", err)
		}
		cfg.RunLease = d
	}

	if v := os.Getenv("SALES_LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
			return cfg, fmt.Errorf("SALES_LOG_LEVEL: %w", err)
		}
	}
	return cfg, nil
}

// Logger returns a JSON logger writing to stderr at the configured level.
func (c Config) Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel}))
}
