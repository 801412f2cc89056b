package report

import (
	"sort"
	"strconv"

	"github.com/imrishuroy/go-sales-reports/internal/orders"
	"github.com/imrishuroy/go-sales-reports/internal/validation"
)

// snapshot is an immutable, indexed copy of a loaded dataset. Queries only
// ever read a snapshot; Load builds a new one and swaps it in.
type snapshot struct {
	customers        map[int64]orders.Customer
	customerIDs      []int64 // ascending
	orders           map[int64]orders.Order
	orderIDs         []int64 // ascending
	ordersByCustomer map[int64][]int64
	products         map[int64]orders.Product
	items            []orders.OrderItem
}

// buildSnapshot indexes ds by identifier and resolves every foreign reference.
// ds must already be normalized and field-validated.
func buildSnapshot(ds orders.Dataset) (*snapshot, error) {
	s := &snapshot{
		customers:        make(map[int64]orders.Customer, len(ds.Customers)),
		orders:           make(map[int64]orders.Order, len(ds.Orders)),
		ordersByCustomer: make(map[int64][]int64, len(ds.Customers)),
		products:         make(map[int64]orders.Product, len(ds.Products)),
		items:            append([]orders.OrderItem(nil), ds.OrderItems...),
	}

	emails := make(map[string]int64, len(ds.Customers))
	for _, c := range ds.Customers {
		id := strconv.FormatInt(c.ID, 10)
		if _, dup := s.customers[c.ID]; dup {
			return nil, &orders.ValidationError{Entity: "customer", ID: id, Field: "ID", Reason: "duplicate identifier"}
		}
		if c.Email != "" {
			if other, dup := emails[c.Email]; dup {
				return nil, &orders.ValidationError{
					Entity: "customer", ID: id, Field: "Email",
					Reason: "already used by customer " + strconv.FormatInt(other, 10),
				}
			}
			emails[c.Email] = c.ID
		}
		s.customers[c.ID] = c
		s.customerIDs = append(s.customerIDs, c.ID)
	}

	for _, o := range ds.Orders {
		id := strconv.FormatInt(o.ID, 10)
		if _, dup := s.orders[o.ID]; dup {
			return nil, &orders.ValidationError{Entity: "order", ID: id, Field: "ID", Reason: "duplicate identifier"}
		}
		if _, ok := s.customers[o.CustomerID]; !ok {
			return nil, &orders.ReferentialIntegrityError{Entity: "order", ID: id, Field: "customer_id", Ref: o.CustomerID}
		}
		s.orders[o.ID] = o
		s.orderIDs = append(s.orderIDs, o.ID)
		s.ordersByCustomer[o.CustomerID] = append(s.ordersByCustomer[o.CustomerID], o.ID)
	}

	for _, p := range ds.Products {
		if _, dup := s.products[p.ID]; dup {
			return nil, &orders.ValidationError{Entity: "product", ID: strconv.FormatInt(p.ID, 10), Field: "ID", Reason: "duplicate identifier"}
		}
		s.products[p.ID] = p
	}

	for i, it := range ds.OrderItems {
		if _, ok := s.orders[it.OrderID]; !ok {
			return nil, &orders.ReferentialIntegrityError{Entity: "order_item", ID: validation.ItemID(i, it), Field: "order_id", Ref: it.OrderID}
		}
		if _, ok := s.products[it.ProductID]; !ok {
			return nil, &orders.ReferentialIntegrityError{Entity: "order_item", ID: validation.ItemID(i, it), Field: "product_id", Ref: it.ProductID}
		}
	}

	sortIDs(s.customerIDs)
	sortIDs(s.orderIDs)
	for cid := range s.ordersByCustomer {
		sortIDs(s.ordersByCustomer[cid])
	}
	return s, nil
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
