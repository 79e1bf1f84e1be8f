package triage

import (
	"context"
	"time"
)

// EventType names a change pushed to real-time subscribers.
type EventType string

const (
	EventResultCreated     EventType = "result.created"
	EventResultUpdated     EventType = "result.updated"
	EventResultCompleted   EventType = "result.completed"
	EventResultReviewed    EventType = "result.reviewed"
	EventAlertRaised       EventType = "alert.raised"
	EventAlertAcknowledged EventType = "alert.acknowledged"
)

// Event is a row change. Exactly one of Result or Alert is set.
type Event struct {
	Type   EventType `json:"type"`
	Result *Result   `json:"result,omitempty"`
	Alert  *Alert    `json:"alert,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher fans events out to real-time subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Notifier delivers alerts to an out-of-band channel.
type Notifier interface {
	Send(ctx context.Context, alert *Alert) error
}
