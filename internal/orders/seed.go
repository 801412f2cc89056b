package orders

import "github.com/shopspring/decimal"

// SeedDataset returns the reference dataset used by the CLI's --seed flag and by tests.
//
// Alice and Charlie live in North, Bob and Diana in South. Diana has no orders
// and Bob's March order is cancelled.
func SeedDataset() Dataset {
	return Dataset{
		Customers: []Customer{
			{ID: 1, Name: "Alice", Email: "alice@test.com", Region: "North"},
			{ID: 2, Name: "Bob", Email: "bob@test.com", Region: "South"},
			{ID: 3, Name: "Charlie", Email: "charlie@test.com", Region: "North"},
			{ID: 4, Name: "Diana", Email: "diana@test.com", Region: "South"},
		},
		Orders: []Order{
			{ID: 101, CustomerID: 1, Amount: decimal.RequireFromString("150.00"), OrderDate: Date(2026, 1, 15), Status: StatusCompleted},
			{ID: 102, CustomerID: 1, Amount: decimal.RequireFromString("200.00"), OrderDate: Date(2026, 2, 10), Status: StatusCompleted},
			{ID: 103, CustomerID: 2, Amount: decimal.RequireFromString("75.00"), OrderDate: Date(2026, 1, 20), Status: StatusCompleted},
			{ID: 104, CustomerID: 3, Amount: decimal.RequireFromString("300.00"), OrderDate: Date(2026, 2, 25), Status: StatusCompleted},
			{ID: 105, CustomerID: 2, Amount: decimal.RequireFromString("50.00"), OrderDate: Date(2026, 3, 5), Status: StatusCancelled},
		},
		Products: []Product{
			{ID: 1, Name: "Widget", Price: decimal.RequireFromString("25.00"), Category: "hardware"},
			{ID: 2, Name: "Gadget", Price: decimal.RequireFromString("50.00"), Category: "hardware"},
			{ID: 3, Name: "Support plan", Price: decimal.RequireFromString("75.00"), Category: "services"},
		},
		OrderItems: []OrderItem{
			{OrderID: 101, ProductID: 1, Quantity: 2},
			{OrderID: 101, ProductID: 3, Quantity: 1},
			{OrderID: 102, ProductID: 2, Quantity: 4},
			{OrderID: 103, ProductID: 3, Quantity: 1},
			{OrderID: 104, ProductID: 2, Quantity: 6},
			{OrderID: 105, ProductID: 1, Quantity: 2},
		},
	}
}
