package main

import (
	"time"

	"github.com/imrishuroy/go-sales-reports/internal/report"
)

// ReportMessage is the payload published to SQS after each run.
type ReportMessage struct {
	RunID           string                  `json:"run_id"`
	EventID         string                  `json:"event_id"`
	GeneratedAt     time.Time               `json:"generated_at"`
	RevenueByRegion []report.RegionRevenue  `json:"revenue_by_region"`
	CustomerOrders  []report.CustomerOrders `json:"customer_orders"`
	MonthlyRevenue  []report.MonthRevenue   `json:"monthly_revenue"`
}

// runSummary is stored on the run record once the report is published.
type runSummary struct {
	RunID     string `json:"run_id"`
	Regions   int    `json:"regions"`
	Customers int    `json:"customers"`
	Months    int    `json:"months"`
}
