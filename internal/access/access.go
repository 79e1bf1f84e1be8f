// Package access defines the authenticated principal and the row-level
// predicates that decide which triage, alert and profile rows it may touch.
// The same predicates are installed as Postgres RLS policies by pgstore, so
// the in-memory store and the database agree on visibility.
package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Role is the application role stored on a profile.
type Role string

const (
	// RolePatient submits intakes and reads only their own rows
	RolePatient Role = "patient"

	// RoleStaff works the queue, alerts and analytics
	RoleStaff Role = "staff"

	// RoleAdmin is staff plus role management
	RoleAdmin Role = "admin"

	// RoleService is used by background work and bypasses row policies
	RoleService Role = "service"
)

// ParseRole validates an externally supplied role. The service role is
// never accepted from outside the process.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RolePatient, RoleStaff, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Principal is the caller on whose behalf an operation runs.
type Principal struct {
	UserID uuid.UUID
	Email  string
	Role   Role
}

// Service returns the principal used for work that is not tied to a request.
func Service() Principal {
	return Principal{UserID: uuid.Nil, Role: RoleService}
}

// IsStaff reports whether p may see rows belonging to any patient.
func (p Principal) IsStaff() bool {
	return p.Role == RoleStaff || p.Role == RoleAdmin || p.Role == RoleService
}

// IsAdmin reports whether p may manage roles.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleService
}

// Authenticated reports whether p carries a real identity.
func (p Principal) Authenticated() bool {
	return p.Role == RoleService || (p.UserID != uuid.Nil && p.Role != "")
}

// CanReadPatient is the select predicate for patient-owned rows
// (triage results, chat messages, case summaries).
func (p Principal) CanReadPatient(patientID uuid.UUID) bool {
	return p.IsStaff() || (p.UserID != uuid.Nil && p.UserID == patientID)
}

// CanWritePatient is the insert predicate for patient-owned rows. Staff may
// file an intake on a patient's behalf.
func (p Principal) CanWritePatient(patientID uuid.UUID) bool {
	return p.CanReadPatient(patientID)
}

// CanReview is the update predicate for review status.
func (p Principal) CanReview() bool {
	return p.IsStaff()
}

// CanReadAlerts gates the alert table.
func (p Principal) CanReadAlerts() bool {
	return p.IsStaff()
}

// CanReadProfile is the select predicate for profiles.
func (p Principal) CanReadProfile(id uuid.UUID) bool {
	return p.IsStaff() || (p.UserID != uuid.Nil && p.UserID == id)
}

// CanUpdateProfile is the update predicate for profile details.
func (p Principal) CanUpdateProfile(id uuid.UUID) bool {
	return p.IsAdmin() || (p.UserID != uuid.Nil && p.UserID == id)
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored on ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
