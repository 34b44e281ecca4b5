package audit

import (
	"context"
	"errors"
	"time"
)

// Status classifies the outcome an entry records.
type Status string

const (
	// StatusSuccess records an allowed operation.
	StatusSuccess Status = "success"
	// StatusDenied records a clean policy denial.
	StatusDenied Status = "denied"
	// StatusError records an operation that failed for technical reasons.
	StatusError Status = "error"
)

// ErrInvalidEntry is returned by Append for structurally incomplete entries.
var ErrInvalidEntry = errors.New("audit entry missing required fields")

// ErrStoreUnavailable wraps backend failures. The Engine retries a bounded
// number of times and then fails the guarded operation.
var ErrStoreUnavailable = errors.New("audit store unavailable")

// Entry is one immutable audit record.
type Entry struct {
	ID           string
	Timestamp    time.Time
	ActorUserID  string
	Action       string
	ResourceType string
	ResourceID   string
	SessionID    string
	IP           string
	Status       Status
	PHIAccessed  bool
	Details      map[string]string
}

// Window bounds a query in time. Zero From means the beginning of the trail;
// zero To means now.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	if !w.From.IsZero() && ts.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && ts.After(w.To) {
		return false
	}
	return true
}

// Filter selects entries for a query. Zero fields match everything.
type Filter struct {
	ActorUserID string
	OnlyPHI     bool
	Window      Window
	Limit       int
}

// Store is the audit persistence contract. Append must be durable before it
// returns; Query must never mutate entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// Validate checks the fields every entry must carry.
func (e Entry) Validate() error {
	if e.Timestamp.IsZero() || e.Action == "" || e.Status == "" {
		return ErrInvalidEntry
	}
	switch e.Status {
	case StatusSuccess, StatusDenied, StatusError:
		return nil
	default:
		return ErrInvalidEntry
	}
}
