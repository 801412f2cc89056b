package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses
const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
)

// DefaultStatus is applied to orders loaded without a status.
const DefaultStatus = StatusCompleted

// Customer is a buyer. Region is required; Email is optional but unique when set.
type Customer struct {
	ID     int64  `json:"id" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email,omitempty" validate:"omitempty,email"`
	Region string `json:"region" validate:"required"`
}

// Order references exactly one customer.
type Order struct {
	ID         int64           `json:"id" validate:"required"`
	CustomerID int64           `json:"customer_id" validate:"required"` // customer reference
	Amount     decimal.Decimal `json:"amount"`                          // checked by struct-level validation
	OrderDate  time.Time       `json:"order_date" validate:"required"`
	Status     Status          `json:"status" validate:"required,oneof=completed cancelled pending"`
}

// IsCompleted reports whether the order counts toward recognised revenue.
func (o Order) IsCompleted() bool { return o.Status == StatusCompleted }

// Product is part of the catalogue. Not used by the current reports.
type Product struct {
	ID       int64           `json:"id" validate:"required"`
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category,omitempty"`
}

// OrderItem is a line item of an order.
type OrderItem struct {
	OrderID   int64 `json:"order_id" validate:"required"`
	ProductID int64 `json:"product_id" validate:"required"`
	Quantity  int   `json:"quantity" validate:"min=1"` // must be >= 1
}

// Dataset is the unit of bulk loading.
type Dataset struct {
	Customers  []Customer  `json:"customers"`
	Orders     []Order     `json:"orders"`
	Products   []Product   `json:"products"`
	OrderItems []OrderItem `json:"order_items"`
}

// Normalized returns a copy with defaults applied: empty statuses become
// DefaultStatus and order dates are truncated to UTC calendar dates.
func (d Dataset) Normalized() Dataset {
	out := Dataset{
		Customers:  append([]Customer(nil), d.Customers...),
		Orders:     make([]Order, len(d.Orders)),
		Products:   append([]Product(nil), d.Products...),
		OrderItems: append([]OrderItem(nil), d.OrderItems...),
	}
	for i, o := range d.Orders {
		if o.Status == "" {
			o.Status = DefaultStatus
		}
		if !o.OrderDate.IsZero() {
			o.OrderDate = Date(o.OrderDate.Year(), o.OrderDate.Month(), o.OrderDate.Day())
		}
		out.Orders[i] = o
	}
	return out
}

// Date builds a calendar date at UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
