// Package memstore provides an in-memory implementation of triage.Store and
// profile.Store. It applies the same row policies as the Postgres store,
// keyed on the access.Principal carried by the context; a context without a
// principal sees no rows.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mirudhula24/smart-triage/internal/access"
	"github.com/Mirudhula24/smart-triage/internal/profile"
	"github.com/Mirudhula24/smart-triage/internal/triage"
)

// Store holds results, transcripts, alerts and profiles in memory. Suitable
// for dev/testing.
type Store struct {
	mu       sync.RWMutex
	results  map[string]*triage.Result // triage ID -> result, without transcript
	turns    map[string][]triage.Turn  // triage ID -> ordered chat turns
	alerts   map[string]*triage.Alert  // alert ID -> alert
	profiles map[uuid.UUID]*profile.Profile
	now      func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		results:  make(map[string]*triage.Result),
		turns:    make(map[string][]triage.Turn),
		alerts:   make(map[string]*triage.Alert),
		profiles: make(map[uuid.UUID]*profile.Profile),
		now:      time.Now,
	}
}

func principal(ctx context.Context) access.Principal {
	p, _ := access.FromContext(ctx)
	return p
}

// Get retrieves a triage result with its transcript. Returns a copy.
func (s *Store) Get(ctx context.Context, id string) (*triage.Result, bool, error) {
	p := principal(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok || !p.CanReadPatient(r.PatientID) {
		return nil, false, nil
	}
	cp := copyResult(r)
	if turns := s.turns[id]; len(turns) > 0 {
		cp.Conversation = &triage.Conversation{Turns: slices.Clone(turns)}
	}
	return cp, true, nil
}

// Put inserts or updates a result. The transcript is written through
// AppendTurn and is ignored here. Patients may only update their own rows
// while a chat is still open.
func (s *Store) Put(ctx context.Context, r *triage.Result) error {
	p := principal(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.results[r.ID]
	switch {
	case !ok:
		if !p.CanWritePatient(r.PatientID) {
			return triage.ErrForbidden
		}
		if _, known := s.profiles[r.PatientID]; !known {
			return triage.ErrUnknownPatient
		}
	case !p.CanReadPatient(existing.PatientID):
		return triage.ErrNotFound
	case !p.IsStaff() && existing.Status != triage.StatusInProgress:
		return triage.ErrNotFound
	case existing.ReviewedBy == nil && r.ReviewedBy != nil && !p.CanReview():
		return triage.ErrForbidden
	}

	cp := copyResult(r)
	cp.Conversation = nil
	if ok {
		cp.CreatedAt = existing.CreatedAt
	}
	cp.UpdatedAt = s.now().UTC()
	s.results[r.ID] = cp
	return nil
}

// List returns visible results newest first. Transcripts are not included.
func (s *Store) List(ctx context.Context, f triage.ResultFilter) ([]*triage.Result, error) {
	p := principal(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*triage.Result
	for _, r := range s.results {
		if !p.CanReadPatient(r.PatientID) {
			continue
		}
		if f.PatientID != uuid.Nil && r.PatientID != f.PatientID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, copyResult(r))
	}

	slices.SortFunc(out, func(a, b *triage.Result) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// AppendTurn adds a chat turn at position seq. A seq that is already taken
// reports triage.ErrConflict.
func (s *Store) AppendTurn(ctx context.Context, triageID string, seq int, turn *triage.Turn) error {
	p := principal(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[triageID]
	if !ok || !p.CanWritePatient(r.PatientID) {
		return triage.ErrNotFound
	}
	if seq != len(s.turns[triageID]) {
		return triage.ErrConflict
	}
	t := *turn
	t.Keywords = slices.Clone(turn.Keywords)
	s.turns[triageID] = append(s.turns[triageID], t)
	return nil
}

// PutAlert inserts or updates an alert. Staff only.
func (s *Store) PutAlert(ctx context.Context, a *triage.Alert) error {
	if !principal(ctx).CanReadAlerts() {
		return triage.ErrForbidden
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// GetAlert retrieves an alert by ID. Returns a copy.
func (s *Store) GetAlert(ctx context.Context, id string) (*triage.Alert, bool, error) {
	if !principal(ctx).CanReadAlerts() {
		return nil, false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, f triage.AlertFilter) ([]*triage.Alert, error) {
	if !principal(ctx).CanReadAlerts() {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*triage.Alert
	for _, a := range s.alerts {
		if f.OnlyOpen && !a.Open() {
			continue
		}
		if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}

	slices.SortFunc(out, func(a, b *triage.Alert) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// GetProfile retrieves a profile visible to the context principal.
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (*profile.Profile, bool, error) {
	p := principal(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.profiles[id]
	if !ok || !p.CanReadProfile(id) {
		return nil, false, nil
	}
	cp := *pr
	return &cp, true, nil
}

// CreateProfile inserts pr unless it exists. Users may only create their
// own profile, and always as patients unless an admin is inserting.
func (s *Store) CreateProfile(ctx context.Context, pr *profile.Profile) (*profile.Profile, error) {
	p := principal(ctx)
	if p.UserID != pr.ID && !p.IsAdmin() {
		return nil, profile.ErrForbidden
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.profiles[pr.ID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *pr
	if !p.IsAdmin() {
		cp.Role = access.RolePatient
	}
	now := s.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.profiles[pr.ID] = &cp

	out := cp
	return &out, nil
}

// PutProfile updates an existing profile. Role changes need an admin.
func (s *Store) PutProfile(ctx context.Context, pr *profile.Profile) error {
	p := principal(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[pr.ID]
	if !ok || !p.CanReadProfile(pr.ID) {
		return profile.ErrNotFound
	}
	if !p.CanUpdateProfile(pr.ID) {
		return profile.ErrForbidden
	}
	if pr.Role != existing.Role && !p.IsAdmin() {
		return profile.ErrForbidden
	}

	cp := *pr
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = s.now().UTC()
	s.profiles[pr.ID] = &cp
	return nil
}

// ListProfiles returns visible profiles, oldest first.
func (s *Store) ListProfiles(ctx context.Context) ([]*profile.Profile, error) {
	p := principal(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*profile.Profile
	for id, pr := range s.profiles {
		if !p.CanReadProfile(id) {
			continue
		}
		cp := *pr
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *profile.Profile) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func copyResult(r *triage.Result) *triage.Result {
	cp := *r
	cp.Symptoms = slices.Clone(r.Symptoms)
	cp.MatchedKeywords = slices.Clone(r.MatchedKeywords)
	if r.ReviewedBy != nil {
		id := *r.ReviewedBy
		cp.ReviewedBy = &id
	}
	return &cp
}
