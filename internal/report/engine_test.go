package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-sales-reports/internal/orders"
	"github.com/imrishuroy/go-sales-reports/internal/storage/badger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	store, err := badger.OpenInMemory()
	require.NoError(t, err)
	e := New(store, opts...)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func seededEngine(t *testing.T) *Engine {
	t.Helper()
	e := newEngine(t)
	require.NoError(t, e.Load(context.Background(), orders.SeedDataset()))
	return e
}

func TestSeedScenario_RevenueByRegion(t *testing.T) {
	e := seededEngine(t)

	rows, err := e.RevenueByRegion(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "North", rows[0].Region)
	assert.True(t, dec("650.00").Equal(rows[0].TotalRevenue), "North got %s", rows[0].TotalRevenue)
	assert.Equal(t, "South", rows[1].Region)
	assert.True(t, dec("75.00").Equal(rows[1].TotalRevenue), "South must exclude the cancelled order, got %s", rows[1].TotalRevenue)
}

func TestSeedScenario_CustomerOrderReport(t *testing.T) {
	e := seededEngine(t)

	rows, err := e.CustomerOrderReport(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 4)

	want := []struct {
		name   string
		region string
		count  int
		spent  string
	}{
		{"Alice", "North", 2, "350.00"},
		{"Bob", "South", 2, "125.00"}, // cancelled order counted
		{"Charlie", "North", 1, "300.00"},
		{"Diana", "South", 0, "0"},
	}
	for i, w := range want {
		assert.Equal(t, w.name, rows[i].Name)
		assert.Equal(t, w.region, rows[i].Region)
		assert.Equal(t, w.count, rows[i].OrderCount, w.name)
		assert.True(t, dec(w.spent).Equal(rows[i].TotalSpent), "%s spent %s", w.name, rows[i].TotalSpent)
	}
}

func TestSeedScenario_MonthlyRevenue(t *testing.T) {
	e := seededEngine(t)

	rows, err := e.MonthlyRevenue(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2, "March only has a cancelled order")

	assert.Equal(t, "2026-01", rows[0].Month)
	assert.True(t, dec("225.00").Equal(rows[0].Revenue))
	assert.Equal(t, "2026-02", rows[1].Month)
	assert.True(t, dec("500.00").Equal(rows[1].Revenue))
}

func TestRevenueByRegion_SumMatchesCompletedOrders(t *testing.T) {
	ds := orders.SeedDataset()
	ds.Customers = append(ds.Customers,
		orders.Customer{ID: 5, Name: "Eve", Region: "East"},
		orders.Customer{ID: 6, Name: "Frank", Region: "West"},
	)
	ds.Orders = append(ds.Orders,
		orders.Order{ID: 106, CustomerID: 5, Amount: dec("19.99"), OrderDate: orders.Date(2026, 4, 1)},
		orders.Order{ID: 107, CustomerID: 5, Amount: dec("0.01"), OrderDate: orders.Date(2026, 4, 2), Status: orders.StatusPending},
		orders.Order{ID: 108, CustomerID: 6, Amount: dec("12.34"), OrderDate: orders.Date(2025, 12, 31), Status: orders.StatusCompleted},
	)
	e := newEngine(t)
	require.NoError(t, e.Load(context.Background(), ds))

	rows, err := e.RevenueByRegion(context.Background())
	require.NoError(t, err)

	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.TotalRevenue)
	}
	completed := decimal.Zero
	for _, o := range ds.Normalized().Orders {
		if o.IsCompleted() {
			completed = completed.Add(o.Amount)
		}
	}
	assert.True(t, completed.Equal(total), "region total %s != completed total %s", total, completed)

	months, err := e.MonthlyRevenue(context.Background())
	require.NoError(t, err)
	monthTotal := decimal.Zero
	for _, m := range months {
		monthTotal = monthTotal.Add(m.Revenue)
	}
	assert.True(t, completed.Equal(monthTotal))
	assert.Equal(t, "2025-12", months[0].Month, "months sort chronologically across years")
}

func TestRevenueByRegion_CancelledOnlyRegionIsZero(t *testing.T) {
	e := newEngine(t)
	ds := orders.Dataset{
		Customers: []orders.Customer{
			{ID: 1, Name: "Alice", Region: "North"},
			{ID: 2, Name: "Bob", Region: "South"},
		},
		Orders: []orders.Order{
			{ID: 1, CustomerID: 1, Amount: dec("75.00"), OrderDate: orders.Date(2026, 1, 1), Status: orders.StatusCompleted},
			{ID: 2, CustomerID: 2, Amount: dec("50.00"), OrderDate: orders.Date(2026, 1, 2), Status: orders.StatusCancelled},
		},
	}
	require.NoError(t, e.Load(context.Background(), ds))

	rows, err := e.RevenueByRegion(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "South", rows[1].Region)
	assert.True(t, rows[1].TotalRevenue.IsZero(), "got %s", rows[1].TotalRevenue)
}

func TestRevenueByRegion_RegionWithoutOrders(t *testing.T) {
	e := newEngine(t)
	ds := orders.Dataset{
		Customers: []orders.Customer{{ID: 1, Name: "Zed", Region: "Islands"}},
	}
	require.NoError(t, e.Load(context.Background(), ds))

	rows, err := e.RevenueByRegion(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Islands", rows[0].Region)
	assert.True(t, rows[0].TotalRevenue.IsZero())
}

func TestCustomerOrderReport_NoCrossProduct(t *testing.T) {
	e := seededEngine(t)
	ds := orders.SeedDataset()

	rows, err := e.CustomerOrderReport(context.Background())
	require.NoError(t, err)

	sum := 0
	for _, r := range rows {
		sum += r.OrderCount
		assert.LessOrEqual(t, r.OrderCount, len(ds.Orders))
	}
	assert.Equal(t, len(ds.Orders), sum)
	assert.NotEqual(t, len(ds.Customers)*len(ds.Orders), sum)
}

func TestCustomerOrderReport_SameNameDistinctCustomers(t *testing.T) {
	e := newEngine(t)
	ds := orders.Dataset{
		Customers: []orders.Customer{
			{ID: 1, Name: "Sam", Region: "North"},
			{ID: 2, Name: "Sam", Region: "South"},
		},
		Orders: []orders.Order{
			{ID: 10, CustomerID: 1, Amount: dec("10.00"), OrderDate: orders.Date(2026, 1, 1)},
			{ID: 11, CustomerID: 2, Amount: dec("20.00"), OrderDate: orders.Date(2026, 1, 1)},
			{ID: 12, CustomerID: 2, Amount: dec("5.50"), OrderDate: orders.Date(2026, 1, 3)},
		},
	}
	require.NoError(t, e.Load(context.Background(), ds))

	rows, err := e.CustomerOrderReport(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].CustomerID)
	assert.Equal(t, 1, rows[0].OrderCount)
	assert.Equal(t, int64(2), rows[1].CustomerID)
	assert.Equal(t, 2, rows[1].OrderCount)
	assert.True(t, dec("25.50").Equal(rows[1].TotalSpent))
}

func TestMonthlyRevenue_UsesCalendarMonth(t *testing.T) {
	e := newEngine(t)
	ds := orders.Dataset{
		Customers: []orders.Customer{{ID: 1, Name: "Charlie", Region: "North"}},
		Orders: []orders.Order{
			// a time of day must not leak into the bucket key
			{ID: 1, CustomerID: 1, Amount: dec("300.00"), OrderDate: orders.Date(2026, 2, 25).Add(37 * time.Minute)},
		},
	}
	require.NoError(t, e.Load(context.Background(), ds))

	rows, err := e.MonthlyRevenue(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-02", rows[0].Month)
	assert.NotContains(t, rows[0].Month, "-00")
	assert.NotContains(t, rows[0].Month, "-37")
}

func TestLoad_DefaultsStatusToCompleted(t *testing.T) {
	e := newEngine(t)
	ds := orders.Dataset{
		Customers: []orders.Customer{{ID: 1, Name: "Alice", Region: "North"}},
		Orders:    []orders.Order{{ID: 1, CustomerID: 1, Amount: dec("9.99"), OrderDate: orders.Date(2026, 5, 1)}},
	}
	require.NoError(t, e.Load(context.Background(), ds))

	rows, err := e.RevenueByRegion(context.Background())
	require.NoError(t, err)
	assert.True(t, dec("9.99").Equal(rows[0].TotalRevenue))
}

func TestQueries_BeforeLoad(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.RevenueByRegion(ctx)
	assert.ErrorIs(t, err, orders.ErrNotLoaded)
	_, err = e.CustomerOrderReport(ctx)
	assert.ErrorIs(t, err, orders.ErrNotLoaded)
	_, err = e.MonthlyRevenue(ctx)
	assert.ErrorIs(t, err, orders.ErrNotLoaded)
}

func TestLoad_DanglingCustomerReference(t *testing.T) {
	e := newEngine(t)
	ds := orders.SeedDataset()
	ds.Orders = append(ds.Orders, orders.Order{ID: 200, CustomerID: 99, Amount: dec("1.00"), OrderDate: orders.Date(2026, 1, 1)})

	err := e.Load(context.Background(), ds)

	var rie *orders.ReferentialIntegrityError
	require.ErrorAs(t, err, &rie)
	assert.Equal(t, "order", rie.Entity)
	assert.Equal(t, "customer_id", rie.Field)
	assert.Equal(t, int64(99), rie.Ref)

	_, err = e.RevenueByRegion(context.Background())
	assert.ErrorIs(t, err, orders.ErrNotLoaded, "a rejected load must not publish anything")
}

func TestLoad_DanglingOrderItemReferences(t *testing.T) {
	cases := map[string]orders.OrderItem{
		"order_id":   {OrderID: 999, ProductID: 1, Quantity: 1},
		"product_id": {OrderID: 101, ProductID: 999, Quantity: 1},
	}
	for field, item := range cases {
		t.Run(field, func(t *testing.T) {
			e := newEngine(t)
			ds := orders.SeedDataset()
			ds.OrderItems = append(ds.OrderItems, item)

			err := e.Load(context.Background(), ds)

			var rie *orders.ReferentialIntegrityError
			require.ErrorAs(t, err, &rie)
			assert.Equal(t, "order_item", rie.Entity)
			assert.Equal(t, field, rie.Field)
		})
	}
}

func TestLoad_DuplicatesAreValidationErrors(t *testing.T) {
	cases := map[string]func(*orders.Dataset){
		"customer id": func(ds *orders.Dataset) { ds.Customers[1].ID = 1 },
		"email":       func(ds *orders.Dataset) { ds.Customers[1].Email = ds.Customers[0].Email },
		"order id":    func(ds *orders.Dataset) { ds.Orders[1].ID = 101 },
		"product id":  func(ds *orders.Dataset) { ds.Products[1].ID = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t)
			ds := orders.SeedDataset()
			mutate(&ds)

			err := e.Load(context.Background(), ds)
			var ve *orders.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestLoad_FailedReloadKeepsPreviousSnapshot(t *testing.T) {
	e := seededEngine(t)
	bad := orders.SeedDataset()
	bad.Orders[0].Amount = dec("-5.00")

	err := e.Load(context.Background(), bad)
	var ve *orders.ValidationError
	require.ErrorAs(t, err, &ve)

	rows, err := e.RevenueByRegion(context.Background())
	require.NoError(t, err)
	assert.True(t, dec("650.00").Equal(rows[0].TotalRevenue))
}

func TestLoad_ReplacesDataset(t *testing.T) {
	e := seededEngine(t)
	ds := orders.Dataset{
		Customers: []orders.Customer{{ID: 1, Name: "Solo", Region: "West"}},
		Orders:    []orders.Order{{ID: 1, CustomerID: 1, Amount: dec("1.00"), OrderDate: orders.Date(2026, 7, 1)}},
	}
	require.NoError(t, e.Load(context.Background(), ds))

	rows, err := e.RevenueByRegion(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "West", rows[0].Region)
}

type failingStore struct {
	saveErr error
	closes  int
}

func (f *failingStore) SaveDataset(ctx context.Context, ds orders.Dataset) error { return f.saveErr }
func (f *failingStore) LoadDataset(ctx context.Context) (*orders.Dataset, error) {
	return nil, nil
}
func (f *failingStore) Close() error {
	f.closes++
	return nil
}

func TestLoad_StoreFailureIsAllOrNothing(t *testing.T) {
	store := &failingStore{saveErr: errors.New("disk full")}
	e := New(store)

	err := e.Load(context.Background(), orders.SeedDataset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, err = e.MonthlyRevenue(context.Background())
	assert.ErrorIs(t, err, orders.ErrNotLoaded)
}

func TestClose_IdempotentAndRejectsUse(t *testing.T) {
	store := &failingStore{}
	e := New(store)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, 1, store.closes)

	_, err := e.RevenueByRegion(context.Background())
	assert.ErrorIs(t, err, orders.ErrClosed)
	assert.ErrorIs(t, e.Load(context.Background(), orders.SeedDataset()), orders.ErrClosed)
}

func TestHydrate_FromPersistentStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := badger.Open(badger.Config{Path: dir})
	require.NoError(t, err)
	first := New(store)
	require.NoError(t, first.Load(ctx, orders.SeedDataset()))
	require.NoError(t, first.Close())

	store2, err := badger.Open(badger.Config{Path: dir})
	require.NoError(t, err)
	second := New(store2)
	defer second.Close()

	var wg sync.WaitGroup
	results := make([][]RegionRevenue, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = second.RevenueByRegion(ctx)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 2)
		assert.True(t, dec("650.00").Equal(results[i][0].TotalRevenue))
	}
}

// gatedStore holds the first LoadDataset until release is closed and fails
// it if the caller's context is done by then.
type gatedStore struct {
	Store
	started chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	loads   int
}

func (g *gatedStore) LoadDataset(ctx context.Context) (*orders.Dataset, error) {
	g.mu.Lock()
	g.loads++
	g.mu.Unlock()
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Store.LoadDataset(ctx)
}

func TestHydrate_CancelledCallerDoesNotFailJoinedCallers(t *testing.T) {
	inner, err := badger.OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, inner.SaveDataset(context.Background(), orders.SeedDataset()))
	store := &gatedStore{Store: inner, started: make(chan struct{}), release: make(chan struct{})}
	e := New(store)
	defer e.Close()

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := e.RevenueByRegion(ctxA)
		errA <- err
	}()
	<-store.started

	type result struct {
		rows []CustomerOrders
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		rows, err := e.CustomerOrderReport(context.Background())
		resB <- result{rows, err}
	}()
	// let B join the in-flight hydration, then abandon A
	time.Sleep(50 * time.Millisecond)
	cancelA()
	close(store.release)

	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.rows, 4)
	require.NoError(t, <-errA)
	assert.Equal(t, 1, store.loads)
}

func TestMetrics_CountQueriesAndLoads(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := newEngine(t, WithMetrics(m))
	ctx := context.Background()

	_, _ = e.MonthlyRevenue(ctx)
	require.NoError(t, e.Load(ctx, orders.SeedDataset()))
	_, err := e.MonthlyRevenue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.queriesTotal.WithLabelValues(ReportMonthlyRevenue, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queriesTotal.WithLabelValues(ReportMonthlyRevenue, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loadsTotal.WithLabelValues("ok")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.datasetEntities.WithLabelValues("order")))
}

func TestRefresh_PicksUpChangesFromOtherWriters(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := badger.Open(badger.Config{Path: dir})
	require.NoError(t, err)
	e := New(store)
	defer e.Close()

	assert.ErrorIs(t, e.Refresh(ctx), orders.ErrNotLoaded)

	require.NoError(t, e.Load(ctx, orders.SeedDataset()))
	// simulate another writer replacing the stored dataset
	require.NoError(t, store.SaveDataset(ctx, orders.Dataset{
		Customers: []orders.Customer{{ID: 1, Name: "Solo", Region: "West"}},
	}))

	rows, err := e.RevenueByRegion(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "published snapshot is unchanged until refresh")

	require.NoError(t, e.Refresh(ctx))
	rows, err = e.RevenueByRegion(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "West", rows[0].Region)
}
