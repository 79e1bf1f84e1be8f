// Package profile owns user profiles: creation on first sign-in, details
// updates and role management.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/Mirudhula24/smart-triage/internal/access"
)

var (
	// ErrNotFound means no profile exists, or the caller may not see it
	ErrNotFound = errors.New("profile not found")

	// ErrForbidden means the caller may see the profile but not change it
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput wraps validation failures
	ErrInvalidInput = errors.New("invalid input")
)

const (
	maxNameLen  = 200
	maxPhoneLen = 32
)

// Profile is the application-side record for an authenticated user.
type Profile struct {
	ID          uuid.UUID   `json:"id"`
	Email       string      `json:"email"`
	FullName    string      `json:"full_name"`
	Phone       string      `json:"phone,omitempty"`
	DateOfBirth *time.Time  `json:"date_of_birth,omitempty"`
	Role        access.Role `json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Update carries the user-editable fields. Nil fields are left unchanged.
type Update struct {
	FullName    *string `json:"full_name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *Date   `json:"date_of_birth,omitempty"`
}

// Store persists profiles. Implementations set UpdatedAt on every write.
type Store interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*Profile, bool, error)
	// CreateProfile inserts p unless a row with the same ID exists, and
	// returns the row that is stored afterwards.
	CreateProfile(ctx context.Context, p *Profile) (*Profile, error)
	PutProfile(ctx context.Context, p *Profile) error
	ListProfiles(ctx context.Context) ([]*Profile, error)
}

// Service applies access rules on top of a Store.
type Service struct {
	store  Store
	logger log.Logger
	now    func() time.Time
}

// NewService creates a profile service.
func NewService(store Store, logger log.Logger) *Service {
	if store == nil {
		panic(xerrors.New("profile store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Ensure returns the caller's profile, creating it as a patient on first
// sight. The stored role wins over whatever the token claimed.
func (s *Service) Ensure(ctx context.Context, p access.Principal) (*Profile, error) {
	ctx = access.WithPrincipal(ctx, p)

	if p.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: principal has no user id", ErrInvalidInput)
	}

	existing, ok, err := s.store.GetProfile(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if ok {
		return existing, nil
	}

	now := s.now().UTC()
	created, err := s.store.CreateProfile(ctx, &Profile{
		ID:        p.UserID,
		Email:     p.Email,
		FullName:  defaultName(p.Email),
		Role:      access.RolePatient,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	s.logger.Info(ctx, "profile created", "user_id", created.ID.String(), "role", string(created.Role))
	return created, nil
}

// Get returns a profile visible to the caller.
func (s *Service) Get(ctx context.Context, p access.Principal, id uuid.UUID) (*Profile, error) {
	ctx = access.WithPrincipal(ctx, p)

	if !p.CanReadProfile(id) {
		return nil, ErrNotFound
	}
	pr, ok, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return pr, nil
}

// List returns every profile. Staff only.
func (s *Service) List(ctx context.Context, p access.Principal) ([]*Profile, error) {
	ctx = access.WithPrincipal(ctx, p)

	if !p.IsStaff() {
		return nil, ErrForbidden
	}
	return s.store.ListProfiles(ctx)
}

// Update applies u to the profile with the given id.
func (s *Service) Update(ctx context.Context, p access.Principal, id uuid.UUID, u Update) (*Profile, error) {
	ctx = access.WithPrincipal(ctx, p)

	if err := u.Validate(); err != nil {
		return nil, err
	}

	pr, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !p.CanUpdateProfile(id) {
		return nil, ErrForbidden
	}

	if u.FullName != nil {
		pr.FullName = strings.TrimSpace(*u.FullName)
	}
	if u.Phone != nil {
		pr.Phone = strings.TrimSpace(*u.Phone)
	}
	if u.DateOfBirth != nil {
		dob := NewDate(u.DateOfBirth.Time).Time
		pr.DateOfBirth = &dob
	}
	pr.UpdatedAt = s.now().UTC()

	if err := s.store.PutProfile(ctx, pr); err != nil {
		return nil, fmt.Errorf("put profile: %w", err)
	}
	return pr, nil
}

// SetRole changes a profile's role. Admin only.
func (s *Service) SetRole(ctx context.Context, p access.Principal, id uuid.UUID, role access.Role) (*Profile, error) {
	ctx = access.WithPrincipal(ctx, p)

	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	if _, err := access.ParseRole(string(role)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	pr, ok, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	prev := pr.Role
	pr.Role = role
	pr.UpdatedAt = s.now().UTC()
	if err := s.store.PutProfile(ctx, pr); err != nil {
		return nil, fmt.Errorf("put profile: %w", err)
	}

	s.logger.Info(ctx, "profile role changed",
		"user_id", id.String(),
		"from", string(prev),
		"to", string(role),
		"by", p.UserID.String(),
	)
	return pr, nil
}

// Validate checks field lengths and phone characters.
func (u Update) Validate() error {
	var errs []error
	if u.FullName != nil {
		name := strings.TrimSpace(*u.FullName)
		if name == "" {
			errs = append(errs, errors.New("full_name must not be empty"))
		}
		if utf8.RuneCountInString(name) > maxNameLen {
			errs = append(errs, fmt.Errorf("full_name longer than %d characters", maxNameLen))
		}
	}
	if u.Phone != nil {
		phone := strings.TrimSpace(*u.Phone)
		if utf8.RuneCountInString(phone) > maxPhoneLen {
			errs = append(errs, fmt.Errorf("phone longer than %d characters", maxPhoneLen))
		}
		if strings.Trim(phone, "0123456789 +-()") != "" {
			errs = append(errs, errors.New("phone may only contain digits, spaces and + - ( )"))
		}
	}
	if u.DateOfBirth != nil && u.DateOfBirth.After(time.Now()) {
		errs = append(errs, errors.New("date_of_birth is in the future"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// defaultName derives a display name from the local part of an email.
func defaultName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return "Patient"
	}
	return local
}
