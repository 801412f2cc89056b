package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-sales-reports/internal/aws"
	"github.com/imrishuroy/go-sales-reports/internal/idempotency"
	"github.com/imrishuroy/go-sales-reports/internal/report"
)

// Processor runs every report for a scheduled event and publishes the result.
type Processor struct {
	engine    *report.Engine
	runs      *idempotency.Store
	publisher *aws.Publisher
	metrics   *aws.MetricPublisher
	logger    *slog.Logger
	newRunID  func() string
	nowFunc   func() time.Time
}

// NewProcessor wires a Processor. runs and metrics may be nil to disable
// de-duplication and CloudWatch publishing respectively.
func NewProcessor(engine *report.Engine, runs *idempotency.Store, publisher *aws.Publisher, metrics *aws.MetricPublisher, logger *slog.Logger) *Processor {
	return &Processor{
		engine:    engine,
		runs:      runs,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		newRunID:  uuid.NewString,
		nowFunc:   time.Now,
	}
}

// Handle processes one scheduled event. EventBridge may deliver an event more
// than once: a run already done for the same event ID is skipped, and one still
// held under a live lease fails with idempotency.ErrInProgress so the delivery
// is retried. A run whose lease expired is taken over.
func (p *Processor) Handle(ctx context.Context, ev events.CloudWatchEvent) error {
	eventID := ev.ID
	if eventID == "" {
		eventID = "adhoc-" + p.newRunID()
	}
	runID := p.newRunID()
	log := p.logger.With("event_id", eventID, "run_id", runID)

	proceed, err := p.claim(ctx, eventID, runID, log)
	if err != nil || !proceed {
		return err
	}

	msg, err := p.run(ctx, eventID, runID)
	if err != nil {
		p.fail(ctx, eventID, err, log)
		return err
	}

	attrs := map[string]string{
		"run_id":   runID,
		"event_id": eventID,
	}
	if err := p.publisher.SendJSON(ctx, msg, attrs); err != nil {
		p.fail(ctx, eventID, err, log)
		return fmt.Errorf("publish report: %w", err)
	}

	if p.metrics != nil {
		if err := p.metrics.Publish(ctx, revenueDatums(msg)); err != nil {
			// the report itself is out; metrics are best effort
			log.Warn("publish revenue metrics", "error", err)
		}
	}

	if p.runs != nil {
		summary, err := json.Marshal(runSummary{
			RunID:     runID,
			Regions:   len(msg.RevenueByRegion),
			Customers: len(msg.CustomerOrders),
			Months:    len(msg.MonthlyRevenue),
		})
		if err != nil {
			return fmt.Errorf("marshal run summary: %w", err)
		}
		if err := p.runs.MarkDone(ctx, eventID, string(summary)); err != nil {
			return fmt.Errorf("mark run done: %w", err)
		}
	}

	log.Info("report run completed",
		"regions", len(msg.RevenueByRegion),
		"customers", len(msg.CustomerOrders),
		"months", len(msg.MonthlyRevenue),
	)
	return nil
}

// claim decides whether this invocation should run the reports for eventID.
func (p *Processor) claim(ctx context.Context, eventID, runID string, log *slog.Logger) (bool, error) {
	if p.runs == nil {
		return true, nil
	}
	created, err := p.runs.Begin(ctx, eventID, runID)
	if err != nil {
		return false, fmt.Errorf("begin run: %w", err)
	}
	if created {
		return true, nil
	}

	rec, err := p.runs.Get(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("get run: %w", err)
	}
	if rec == nil {
		return false, fmt.Errorf("run record for event %s vanished", eventID)
	}
	switch rec.Status {
	case idempotency.StatusDone:
		log.Info("event already reported", "previous_run_id", rec.RunID)
		return false, nil
	case idempotency.StatusInProgress:
		if !rec.LeaseExpired(p.nowFunc()) {
			// fail the delivery so it is redelivered once the holder finishes or its lease runs out
			return false, fmt.Errorf("event %s held by run %s until %s: %w",
				eventID, rec.RunID, time.Unix(rec.LeaseUntil, 0).UTC().Format(time.RFC3339), idempotency.ErrInProgress)
		}
		log.Warn("taking over run with expired lease", "previous_run_id", rec.RunID)
		return p.takeOver(ctx, eventID, runID, log)
	case idempotency.StatusFailed:
		return p.takeOver(ctx, eventID, runID, log)
	default:
		return false, fmt.Errorf("unexpected run status for event %s: %s", eventID, rec.Status)
	}
}

func (p *Processor) takeOver(ctx context.Context, eventID, runID string, log *slog.Logger) (bool, error) {
	ok, err := p.runs.Retry(ctx, eventID, runID)
	if err != nil {
		return false, fmt.Errorf("retry run: %w", err)
	}
	if !ok {
		log.Info("run already taken over")
	}
	return ok, nil
}

func (p *Processor) run(ctx context.Context, eventID, runID string) (*ReportMessage, error) {
	if err := p.engine.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh dataset: %w", err)
	}
	regions, err := p.engine.RevenueByRegion(ctx)
	if err != nil {
		return nil, err
	}
	customers, err := p.engine.CustomerOrderReport(ctx)
	if err != nil {
		return nil, err
	}
	months, err := p.engine.MonthlyRevenue(ctx)
	if err != nil {
		return nil, err
	}
	return &ReportMessage{
		RunID:           runID,
		EventID:         eventID,
		GeneratedAt:     p.nowFunc().UTC(),
		RevenueByRegion: regions,
		CustomerOrders:  customers,
		MonthlyRevenue:  months,
	}, nil
}

func (p *Processor) fail(ctx context.Context, eventID string, cause error, log *slog.Logger) {
	log.Error("report run failed", "error", cause)
	if p.runs == nil {
		return
	}
	if err := p.runs.MarkFailed(ctx, eventID, cause.Error()); err != nil {
		log.Error("mark run failed", "error", err)
	}
}

func revenueDatums(msg *ReportMessage) []aws.Datum {
	datums := make([]aws.Datum, 0, len(msg.RevenueByRegion)+len(msg.MonthlyRevenue))
	for _, r := range msg.RevenueByRegion {
		datums = append(datums, aws.Datum{
			Name:       "RegionRevenue",
			Value:      r.TotalRevenue.InexactFloat64(),
			Unit:       cwtypes.StandardUnitNone,
			Dimensions: map[string]string{"Region": r.Region},
		})
	}
	for _, m := range msg.MonthlyRevenue {
		datums = append(datums, aws.Datum{
			Name:       "MonthlyRevenue",
			Value:      m.Revenue.InexactFloat64(),
			Unit:       cwtypes.StandardUnitNone,
			Dimensions: map[string]string{"Month": m.Month},
		})
	}
	return datums
}
