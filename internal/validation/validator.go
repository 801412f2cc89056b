package validation

import (
	"errors"
	"fmt"
	"strconv"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-sales-reports/internal/orders"
)

// money values carry at most two decimal places
const moneyScale = 2

// New returns a configured validator with struct-level validation registered
// for the entities holding decimal money fields.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(orderStructValidation, orders.Order{})
	v.RegisterStructValidation(productStructValidation, orders.Product{})

	return v
}

// orderStructValidation verifies Amount is non-negative with cent precision.
func orderStructValidation(sl validatorv10.StructLevel) {
	o := sl.Current().Interface().(orders.Order)
	if o.Amount.IsNegative() {
		sl.ReportError(o.Amount, "amount", "Amount", "nonnegative", o.Amount.String())
	}
	if !o.Amount.Equal(o.Amount.Round(moneyScale)) {
		sl.ReportError(o.Amount, "amount", "Amount", "money_scale", o.Amount.String())
	}
}

// productStructValidation verifies Price is non-negative with cent precision.
func productStructValidation(sl validatorv10.StructLevel) {
	p := sl.Current().Interface().(orders.Product)
	if p.Price.IsNegative() {
		sl.ReportError(p.Price, "price", "Price", "nonnegative", p.Price.String())
	}
	if !p.Price.Equal(p.Price.Round(moneyScale)) {
		sl.ReportError(p.Price, "price", "Price", "money_scale", p.Price.String())
	}
}

// Dataset validates every entity of ds field by field. The first failing
// entity is reported as an *orders.ValidationError.
func Dataset(v *validatorv10.Validate, ds orders.Dataset) error {
	for _, c := range ds.Customers {
		if err := entity(v, "customer", strconv.FormatInt(c.ID, 10), c); err != nil {
			return err
		}
	}
	for _, o := range ds.Orders {
		if err := entity(v, "order", strconv.FormatInt(o.ID, 10), o); err != nil {
			return err
		}
	}
	for _, p := range ds.Products {
		if err := entity(v, "product", strconv.FormatInt(p.ID, 10), p); err != nil {
			return err
		}
	}
	for i, it := range ds.OrderItems {
		if err := entity(v, "order_item", ItemID(i, it), it); err != nil {
			return err
		}
	}
	return nil
}

// ItemID names an order item in error messages; items have no identifier of their own.
func ItemID(i int, it orders.OrderItem) string {
	return fmt.Sprintf("#%d(order %d, product %d)", i, it.OrderID, it.ProductID)
}

func entity(v *validatorv10.Validate, kind, id string, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return &orders.ValidationError{
			Entity: kind,
			ID:     id,
			Field:  fe.Field(),
			Reason: reason(fe),
			Err:    err,
		}
	}
	return &orders.ValidationError{Entity: kind, ID: id, Reason: err.Error(), Err: err}
}

func reason(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "nonnegative":
		return "must not be negative"
	case "money_scale":
		return "must have at most two decimal places"
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "email":
		return "is not a valid email address"
	default:
		return "failed " + fe.Tag()
	}
}
