package triage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResultFilter narrows List. Zero values match everything.
type ResultFilter struct {
	PatientID uuid.UUID
	Statuses  []Status
	Since     time.Time
	Limit     int
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	OnlyOpen  bool
	PatientID uuid.UUID
	Limit     int
}

// Store is the persistence interface for triage results and alerts.
// Row visibility follows the access.Principal on the context (see pgstore).
type Store interface {
	Get(ctx context.Context, id string) (*Result, bool, error)
	Put(ctx context.Context, result *Result) error
	List(ctx context.Context, f ResultFilter) ([]*Result, error)
	AppendTurn(ctx context.Context, triageID string, seq int, turn *Turn) error

	PutAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, bool, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]*Alert, error)
}
