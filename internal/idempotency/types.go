package idempotency

import (
	"errors"
	"time"
)

// Status values for report run entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// RunRecord is the shape persisted in the report runs table. One record
// exists per triggering event, so redelivered events are recognised.
type RunRecord struct {
	EventID    string    `dynamodbav:"event_id"` // PK
	Status     string    `dynamodbav:"status"`
	RunID      string    `dynamodbav:"run_id,omitempty"`
	Summary    string    `dynamodbav:"summary,omitempty"` // small JSON summary of the published reports
	CreatedAt  time.Time `dynamodbav:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at"`
	ExpiresAt  int64     `dynamodbav:"expires_at"`  // TTL epoch seconds
	LeaseUntil int64     `dynamodbav:"lease_until"` // epoch seconds; an IN_PROGRESS run past it may be taken over
	Note       string    `dynamodbav:"note,omitempty"`
}

// ErrInProgress reports that another invocation holds a live lease on the run.
var ErrInProgress = errors.New("report run in progress")

// LeaseExpired reports whether an IN_PROGRESS run has outlived its lease at now.
func (r RunRecord) LeaseExpired(now time.Time) bool {
	return r.LeaseUntil < now.Unix()
}
