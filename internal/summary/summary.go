// Package summary assembles per-patient case summaries: profile, latest
// result with transcript, recent history, urgency counts and open alerts,
// plus a short narrative for clinicians.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/Mirudhula24/smart-triage/internal/access"
	"github.com/Mirudhula24/smart-triage/internal/profile"
	"github.com/Mirudhula24/smart-triage/internal/triage"
)

// HistoryLimit caps the results included in a summary.
const HistoryLimit = 20

// CaseSummary is the read model behind the case summary view.
type CaseSummary struct {
	Patient     *profile.Profile       `json:"patient"`
	Latest      *triage.Result         `json:"latest,omitempty"`
	History     []*triage.Result       `json:"history"`
	Counts      map[triage.Urgency]int `json:"counts"`
	Total       int                    `json:"total"`
	OpenAlerts  []*triage.Alert        `json:"open_alerts"`
	Narrative   string                 `json:"narrative"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// Narrator turns a summary into prose.
type Narrator interface {
	Narrate(ctx context.Context, s *CaseSummary) (string, error)
}

// Profiles reads patient profiles under the access policy.
type Profiles interface {
	Get(ctx context.Context, p access.Principal, id uuid.UUID) (*profile.Profile, error)
}

// Results reads triage data under the access policy.
type Results interface {
	Get(ctx context.Context, p access.Principal, id string) (*triage.Result, error)
	List(ctx context.Context, p access.Principal, f triage.ResultFilter) ([]*triage.Result, error)
	Alerts(ctx context.Context, p access.Principal, f triage.AlertFilter) ([]*triage.Alert, error)
}

// Builder builds case summaries.
type Builder struct {
	profiles Profiles
	results  Results
	narrator Narrator
	logger   log.Logger
	now      func() time.Time
}

// NewBuilder creates a Builder. A nil narrator uses the template narrator.
func NewBuilder(profiles Profiles, results Results, narrator Narrator, logger log.Logger) *Builder {
	if profiles == nil || results == nil {
		panic(xerrors.New("summary builder needs profiles and results"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Builder{
		profiles: profiles,
		results:  results,
		narrator: narrator,
		logger:   logger,
		now:      time.Now,
	}
}

// Build returns the case summary for patientID. Patients may only build
// their own; a hidden or missing patient is triage.ErrNotFound.
func (b *Builder) Build(ctx context.Context, p access.Principal, patientID uuid.UUID) (*CaseSummary, error) {
	if !p.CanReadPatient(patientID) {
		return nil, triage.ErrNotFound
	}

	pr, err := b.profiles.Get(ctx, p, patientID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, triage.ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	all, err := b.results.List(ctx, p, triage.ResultFilter{PatientID: patientID})
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	s := &CaseSummary{
		Patient:     pr,
		History:     all[:min(len(all), HistoryLimit)],
		Counts:      map[triage.Urgency]int{triage.UrgencyLow: 0, triage.UrgencyMedium: 0, triage.UrgencyHigh: 0},
		Total:       len(all),
		OpenAlerts:  []*triage.Alert{},
		GeneratedAt: b.now().UTC(),
	}
	for _, r := range all {
		if r.Urgency != "" {
			s.Counts[r.Urgency]++
		}
	}

	if len(all) > 0 {
		// List omits transcripts
		latest, err := b.results.Get(ctx, p, all[0].ID)
		if err != nil {
			return nil, fmt.Errorf("get latest result: %w", err)
		}
		s.Latest = latest
	}

	if p.CanReadAlerts() {
		alerts, err := b.results.Alerts(ctx, p, triage.AlertFilter{OnlyOpen: true, PatientID: patientID})
		if err != nil {
			return nil, fmt.Errorf("list alerts: %w", err)
		}
		if alerts != nil {
			s.OpenAlerts = alerts
		}
	}

	s.Narrative = b.narrate(ctx, s)
	return s, nil
}

func (b *Builder) narrate(ctx context.Context, s *CaseSummary) string {
	if b.narrator == nil {
		return Template(s)
	}
	text, err := b.narrator.Narrate(ctx, s)
	if err != nil || text == "" {
		if err == nil {
			err = xerrors.New("narrator returned no text")
		}
		b.logger.Error(ctx, err, "narrative generation failed, using template",
			"patient_id", s.Patient.ID.String(),
		)
		return Template(s)
	}
	return text
}
