package report

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Report names, used for metrics labels and by the binaries.
const (
	ReportRevenueByRegion = "revenue_by_region"
	ReportCustomerOrders  = "customer_order_report"
	ReportMonthlyRevenue  = "monthly_revenue"
)

// RegionRevenue is one row of the revenue-by-region report.
type RegionRevenue struct {
	Region       string          `json:"region"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

// CustomerOrders is one row of the customer order report.
type CustomerOrders struct {
	CustomerID int64           `json:"customer_id"`
	Name       string          `json:"name"`
	Region     string          `json:"region"`
	OrderCount int             `json:"order_count"`
	TotalSpent decimal.Decimal `json:"total_spent"`
}

// MonthRevenue is one row of the monthly revenue report.
type MonthRevenue struct {
	Month   string          `json:"month"` // YYYY-MM
	Revenue decimal.Decimal `json:"revenue"`
}

// revenueByRegion rolls completed order amounts up to the customer's region.
// Every region with at least one customer is present, at zero if needed.
func (s *snapshot) revenueByRegion() []RegionRevenue {
	totals := make(map[string]decimal.Decimal)
	for _, cid := range s.customerIDs {
		c := s.customers[cid]
		sum, ok := totals[c.Region]
		if !ok {
			sum = decimal.Zero
		}
		for _, oid := range s.ordersByCustomer[cid] {
			if o := s.orders[oid]; o.IsCompleted() {
				sum = sum.Add(o.Amount)
			}
		}
		totals[c.Region] = sum
	}

	rows := make([]RegionRevenue, 0, len(totals))
	for region, sum := range totals {
		rows = append(rows, RegionRevenue{Region: region, TotalRevenue: sum})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Region < rows[j].Region })
	return rows
}

// customerOrders pairs each customer only with its own orders, whatever their status.
func (s *snapshot) customerOrders() []CustomerOrders {
	rows := make([]CustomerOrders, 0, len(s.customerIDs))
	for _, cid := range s.customerIDs {
		c := s.customers[cid]
		row := CustomerOrders{
			CustomerID: c.ID,
			Name:       c.Name,
			Region:     c.Region,
			TotalSpent: decimal.Zero,
		}
		for _, oid := range s.ordersByCustomer[cid] {
			row.OrderCount++
			row.TotalSpent = row.TotalSpent.Add(s.orders[oid].Amount)
		}
		rows = append(rows, row)
	}
	return rows
}

// monthlyRevenue buckets completed orders by calendar month, ascending.
func (s *snapshot) monthlyRevenue() []MonthRevenue {
	totals := make(map[string]decimal.Decimal)
	for _, oid := range s.orderIDs {
		o := s.orders[oid]
		if !o.IsCompleted() {
			continue
		}
		key := MonthKey(o.OrderDate.Year(), int(o.OrderDate.Month()))
		if sum, ok := totals[key]; ok {
			totals[key] = sum.Add(o.Amount)
		} else {
			totals[key] = o.Amount
		}
	}

	rows := make([]MonthRevenue, 0, len(totals))
	for month, sum := range totals {
		rows = append(rows, MonthRevenue{Month: month, Revenue: sum})
	}
	// zero-padded YYYY-MM sorts chronologically
	sort.Slice(rows, func(i, j int) bool { return rows[i].Month < rows[j].Month })
	return rows
}

// MonthKey formats a calendar year and month as "YYYY-MM".
func MonthKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}
