package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoaded is returned by report queries issued before any dataset was loaded.
	ErrNotLoaded = errors.New("dataset not loaded")
	// ErrClosed is returned once the engine has been closed.
	ErrClosed = errors.New("report engine closed")
)

// ReferentialIntegrityError reports a foreign reference that does not resolve.
type ReferentialIntegrityError struct {
	Entity string // entity holding the reference, e.g. "order"
	ID     string // identifier of that entity
	Field  string // referencing field, e.g. "customer_id"
	Ref    int64  // the dangling value
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("referential integrity: %s %s: %s %d does not exist", e.Entity, e.ID, e.Field, e.Ref)
}

// ValidationError reports an entity that violates a field constraint.
type ValidationError struct {
	Entity string
	ID     string
	Field  string
	Reason string
	Err    error // underlying validator error, if any
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s %s: %s", e.Entity, e.ID, e.Reason)
	}
	return fmt.Sprintf("validation: %s %s: %s: %s", e.Entity, e.ID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
