package triage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Urgency is the severity tag attached to a result.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Rank orders urgencies for sorting: high > medium > low > unset.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	default:
		return 0
	}
}

// ParseUrgency validates an external urgency value.
func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(s); u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return u, nil
	default:
		return "", fmt.Errorf("%w: unknown urgency %q", ErrInvalidInput, s)
	}
}

// Max returns the more urgent of u and o.
func (u Urgency) Max(o Urgency) Urgency {
	if o.Rank() > u.Rank() {
		return o
	}
	return u
}

// Source records which intake produced a result.
type Source string

const (
	SourceForm Source = "form"
	SourceChat Source = "chat"
)

// Status tracks where a result is in its lifecycle.
type Status string

const (
	// StatusInProgress means a chat intake is still open
	StatusInProgress Status = "in_progress"

	// StatusComplete means assessed and waiting in the queue
	StatusComplete Status = "complete"

	// StatusReviewed means staff have handled it
	StatusReviewed Status = "reviewed"
)

// Result is a triage record for one patient intake.
type Result struct {
	ID                string        `json:"id"`
	PatientID         uuid.UUID     `json:"patient_id"`
	SubmittedBy       uuid.UUID     `json:"submitted_by"`
	Source            Source        `json:"source"`
	Status            Status        `json:"status"`
	Urgency           Urgency       `json:"urgency,omitempty"`
	RecommendedAction string        `json:"recommended_action,omitempty"`
	Symptoms          []string      `json:"symptoms,omitempty"`
	Description       string        `json:"description,omitempty"`
	Severity          int           `json:"severity,omitempty"`
	DurationDays      int           `json:"duration_days,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	MatchedKeywords   []string      `json:"matched_keywords,omitempty"`
	Conversation      *Conversation `json:"conversation,omitempty"`
	ReviewedBy        *uuid.UUID    `json:"reviewed_by,omitempty"`
	ReviewedAt        time.Time     `json:"reviewed_at,omitzero"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	CompletedAt       time.Time     `json:"completed_at,omitzero"`
}

// Conversation is the chat transcript attached to a chat-sourced result.
type Conversation struct {
	Turns []Turn `json:"turns"`
}

// Turn is one chat message.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Keywords  []string  `json:"keywords,omitempty"`
	Urgency   Urgency   `json:"urgency,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat roles.
const (
	RolePatient = "patient"
	RoleBot     = "assistant"
)

// PatientTurns counts turns sent by the patient.
func (c *Conversation) PatientTurns() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, t := range c.Turns {
		if t.Role == RolePatient {
			n++
		}
	}
	return n
}

// Alert is raised for a high-urgency result and stays open until staff
// acknowledge it.
type Alert struct {
	ID             string     `json:"id"`
	TriageID       string     `json:"triage_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	Urgency        Urgency    `json:"urgency"`
	Message        string     `json:"message"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt time.Time  `json:"acknowledged_at,omitzero"`
	AcknowledgedBy *uuid.UUID `json:"acknowledged_by,omitempty"`
}

// Open reports whether the alert still needs acknowledging.
func (a *Alert) Open() bool {
	return a.AcknowledgedAt.IsZero()
}
