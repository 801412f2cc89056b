// Package report computes sales aggregation reports over a loaded dataset of
// customers, orders, products and order items.
//
// An Engine validates and indexes a dataset on Load, persists it to its
// Store, and answers RevenueByRegion, CustomerOrderReport and MonthlyRevenue
// from an immutable snapshot. Queries are safe for concurrent use; loads are
// serialized and become visible atomically.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/imrishuroy/go-sales-reports/internal/orders"
	"github.com/imrishuroy/go-sales-reports/internal/validation"
)

// Store is the storage location backing an Engine. Implementations exist for
// Badger (in-memory or on disk) and DynamoDB.
type Store interface {
	// SaveDataset replaces the stored dataset as a whole.
	SaveDataset(ctx context.Context, ds orders.Dataset) error
	// LoadDataset returns the stored dataset, or (nil, nil) if nothing was ever saved.
	LoadDataset(ctx context.Context) (*orders.Dataset, error)
	Close() error
}

// Engine answers report queries over the most recently loaded dataset.
type Engine struct {
	store    Store
	validate *validatorv10.Validate
	logger   *slog.Logger
	metrics  *Metrics
	nowFunc  func() time.Time

	loadMu  sync.Mutex // single writer
	snap    atomic.Pointer[snapshot]
	hydrate singleflight.Group

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the collectors the engine reports to.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an Engine backed by store. Nothing is loaded yet; if store
// already holds a dataset it is picked up by the first query.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		validate: validation.New(),
		logger:   slog.Default(),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// Load validates ds, checks every foreign reference, persists it and makes it
// the dataset all subsequent queries see. On error nothing changes.
func (e *Engine) Load(ctx context.Context, ds orders.Dataset) (err error) {
	if e.closed.Load() {
		return orders.ErrClosed
	}
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	start := e.nowFunc()
	defer func() {
		e.metrics.loadsTotal.WithLabelValues(resultLabel(err)).Inc()
		e.metrics.loadDuration.Observe(e.nowFunc().Sub(start).Seconds())
	}()

	normalized := ds.Normalized()
	s, err := e.prepare(normalized)
	if err != nil {
		e.logger.Warn("dataset rejected", "error", err)
		return err
	}
	if err := e.store.SaveDataset(ctx, normalized); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	e.publish(s)

	e.logger.Info("dataset loaded",
		"customers", len(s.customers),
		"orders", len(s.orders),
		"products", len(s.products),
		"order_items", len(s.items),
	)
	return nil
}

// Refresh re-reads the dataset from the store and publishes it, picking up
// changes written by other processes. It returns ErrNotLoaded if the store is empty.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.closed.Load() {
		return orders.ErrClosed
	}
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	ds, err := e.store.LoadDataset(ctx)
	if err != nil {
		return fmt.Errorf("load stored dataset: %w", err)
	}
	if ds == nil {
		return orders.ErrNotLoaded
	}
	s, err := e.prepare(ds.Normalized())
	if err != nil {
		return fmt.Errorf("stored dataset: %w", err)
	}
	e.publish(s)
	e.logger.Debug("dataset refreshed from store", "customers", len(s.customers), "orders", len(s.orders))
	return nil
}

// RevenueByRegion sums completed order amounts per customer region. Regions
// without completed orders are reported with zero revenue. Rows are sorted by region.
func (e *Engine) RevenueByRegion(ctx context.Context) ([]RegionRevenue, error) {
	return runQuery(ctx, e, ReportRevenueByRegion, (*snapshot).revenueByRegion)
}

// CustomerOrderReport returns each customer's order count and total spent,
// ordered by customer ID. Orders of every status are counted.
func (e *Engine) CustomerOrderReport(ctx context.Context) ([]CustomerOrders, error) {
	return runQuery(ctx, e, ReportCustomerOrders, (*snapshot).customerOrders)
}

// MonthlyRevenue sums completed order amounts per calendar month, ascending.
func (e *Engine) MonthlyRevenue(ctx context.Context) ([]MonthRevenue, error) {
	return runQuery(ctx, e, ReportMonthlyRevenue, (*snapshot).monthlyRevenue)
}

// Close releases the underlying store. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.closeErr = e.store.Close()
	})
	return e.closeErr
}

func runQuery[T any](ctx context.Context, e *Engine, name string, fn func(*snapshot) []T) (rows []T, err error) {
	start := e.nowFunc()
	defer func() {
		e.metrics.queriesTotal.WithLabelValues(name, resultLabel(err)).Inc()
		e.metrics.queryDuration.WithLabelValues(name).Observe(e.nowFunc().Sub(start).Seconds())
	}()

	s, err := e.current(ctx)
	if err != nil {
		return nil, err
	}
	return fn(s), nil
}

// current returns the published snapshot, hydrating it from the store on
// first use. Concurrent callers share one hydration.
func (e *Engine) current(ctx context.Context) (*snapshot, error) {
	if e.closed.Load() {
		return nil, orders.ErrClosed
	}
	if s := e.snap.Load(); s != nil {
		return s, nil
	}

	// joined callers share this load; it outlives the first caller's cancellation
	hctx := context.WithoutCancel(ctx)
	v, err, _ := e.hydrate.Do("snapshot", func() (interface{}, error) {
		if s := e.snap.Load(); s != nil {
			return s, nil
		}
		ds, err := e.store.LoadDataset(hctx)
		if err != nil {
			return nil, fmt.Errorf("load stored dataset: %w", err)
		}
		if ds == nil {
			return nil, orders.ErrNotLoaded
		}
		s, err := e.prepare(ds.Normalized())
		if err != nil {
			return nil, fmt.Errorf("stored dataset: %w", err)
		}
		// a concurrent Load wins over hydration
		if !e.snap.CompareAndSwap(nil, s) {
			return e.snap.Load(), nil
		}
		e.metrics.observeSnapshot(s)
		e.logger.Info("dataset hydrated from store", "customers", len(s.customers), "orders", len(s.orders))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

func (e *Engine) prepare(ds orders.Dataset) (*snapshot, error) {
	if err := validation.Dataset(e.validate, ds); err != nil {
		return nil, err
	}
	return buildSnapshot(ds)
}

func (e *Engine) publish(s *snapshot) {
	e.snap.Store(s)
	e.metrics.observeSnapshot(s)
}
