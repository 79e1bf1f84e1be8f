package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"

	"github.com/Mirudhula24/smart-triage/internal/access"
	"github.com/Mirudhula24/smart-triage/internal/profile"
	"github.com/Mirudhula24/smart-triage/internal/triage"
	"github.com/Mirudhula24/smart-triage/internal/triage/memstore"
)

var (
	patient = access.Principal{UserID: uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001"), Email: "jo@example.com", Role: access.RolePatient}
	other   = access.Principal{UserID: uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002"), Role: access.RolePatient}
	nurse   = access.Principal{UserID: uuid.MustParse("bbbbbbbb-0000-0000-0000-0000000000aa"), Role: access.RoleStaff}
)

type fixture struct {
	profiles *profile.Service
	triage   *triage.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	f := &fixture{
		profiles: profile.NewService(store, log.Nop()),
		triage:   triage.NewService(store, log.Nop(), nil, nil, nil),
	}
	if _, err := f.profiles.Ensure(context.Background(), patient); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return f
}

type stubNarrator struct {
	text string
	err  error
	got  *CaseSummary
}

func (n *stubNarrator) Narrate(_ context.Context, s *CaseSummary) (string, error) {
	n.got = s
	return n.text, n.err
}

func TestBuild_Empty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := NewBuilder(f.profiles, f.triage, nil, log.Nop())

	s, err := b.Build(context.Background(), patient, patient.UserID)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Total != 0 || s.Latest != nil || len(s.History) != 0 {
		t.Errorf("summary = %+v", s)
	}
	if s.Narrative != "jo has no triage results yet." {
		t.Errorf("narrative = %q", s.Narrative)
	}
}

func TestBuild_WithHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, in := range []triage.FormIntake{
		{Symptoms: []string{"cough"}, Severity: 2},
		{Symptoms: []string{"fever"}, Severity: 6},
		{Symptoms: []string{"chest pain"}, Severity: 7},
	} {
		if _, err := f.triage.SubmitForm(ctx, patient, in); err != nil {
			t.Fatalf("SubmitForm: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	b := NewBuilder(f.profiles, f.triage, nil, log.Nop())

	s, err := b.Build(ctx, nurse, patient.UserID)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Total != 3 || len(s.History) != 3 {
		t.Fatalf("total=%d history=%d", s.Total, len(s.History))
	}
	if s.Counts[triage.UrgencyHigh] != 1 || s.Counts[triage.UrgencyMedium] != 1 || s.Counts[triage.UrgencyLow] != 1 {
		t.Errorf("counts = %v", s.Counts)
	}
	if s.Latest == nil || s.Latest.Symptoms[0] != "chest pain" {
		t.Errorf("latest = %+v", s.Latest)
	}
	if len(s.OpenAlerts) != 1 {
		t.Errorf("open alerts = %d, want 1", len(s.OpenAlerts))
	}
	for _, want := range []string{"jo has 3 triage results (1 high, 1 medium, 1 low).", "Reported: chest pain.", "1 alert open."} {
		if !strings.Contains(s.Narrative, want) {
			t.Errorf("narrative %q missing %q", s.Narrative, want)
		}
	}

	own, err := b.Build(ctx, patient, patient.UserID)
	if err != nil {
		t.Fatalf("Build as patient: %v", err)
	}
	if len(own.OpenAlerts) != 0 {
		t.Error("patients must not see alerts in their summary")
	}
}

func TestBuild_HistoryCapped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	for range HistoryLimit + 3 {
		if _, err := f.triage.SubmitForm(ctx, patient, triage.FormIntake{Symptoms: []string{"cough"}, Severity: 1}); err != nil {
			t.Fatalf("SubmitForm: %v", err)
		}
	}

	s, err := NewBuilder(f.profiles, f.triage, nil, log.Nop()).Build(ctx, patient, patient.UserID)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Total != HistoryLimit+3 || len(s.History) != HistoryLimit {
		t.Errorf("total=%d history=%d", s.Total, len(s.History))
	}
}

func TestBuild_OtherPatientNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := NewBuilder(f.profiles, f.triage, nil, log.Nop())

	if _, err := b.Build(context.Background(), other, patient.UserID); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("other patient: err = %v, want ErrNotFound", err)
	}
	if _, err := b.Build(context.Background(), nurse, uuid.New()); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("missing profile: err = %v, want ErrNotFound", err)
	}
}

func TestBuild_NarratorAndFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	ok := &stubNarrator{text: "Generated narrative."}
	s, err := NewBuilder(f.profiles, f.triage, ok, log.Nop()).Build(ctx, patient, patient.UserID)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Narrative != "Generated narrative." || ok.got == nil {
		t.Errorf("narrative = %q", s.Narrative)
	}

	for _, n := range []*stubNarrator{{err: errors.New("api down")}, {text: ""}} {
		s, err := NewBuilder(f.profiles, f.triage, n, log.Nop()).Build(ctx, patient, patient.UserID)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if s.Narrative != Template(s) {
			t.Errorf("narrative = %q, want template fallback", s.Narrative)
		}
	}
}

func TestTemplate(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 6, 3, 14, 0, 0, 0, time.UTC)
	s := &CaseSummary{
		Patient: &profile.Profile{FullName: "Sam Lee"},
		Total:   2,
		Counts:  map[triage.Urgency]int{triage.UrgencyMedium: 2},
		Latest: &triage.Result{
			Source:            triage.SourceChat,
			Status:            triage.StatusReviewed,
			Urgency:           triage.UrgencyMedium,
			MatchedKeywords:   []string{"fever", "chills"},
			RecommendedAction: "See a doctor.",
			CreatedAt:         created,
		},
	}

	want := "Sam Lee has 2 triage results (2 medium). The most recent was a chat intake on 2026-06-03, " +
		"assessed as medium urgency, reviewed by staff. Reported: fever, chills. Advice given: See a doctor."
	if got := Template(s); got != want {
		t.Errorf("Template =\n%q\nwant\n%q", got, want)
	}
}
