package summary

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mirudhula24/smart-triage/internal/triage"
)

// Template renders a deterministic narrative for s.
func Template(s *CaseSummary) string {
	name := "This patient"
	if s.Patient != nil && s.Patient.FullName != "" {
		name = s.Patient.FullName
	}

	if s.Total == 0 {
		return name + " has no triage results yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s has %s", name, plural(s.Total, "triage result"))
	var parts []string
	for _, u := range []triage.Urgency{triage.UrgencyHigh, triage.UrgencyMedium, triage.UrgencyLow} {
		if n := s.Counts[u]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, u))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString(".")

	if r := s.Latest; r != nil {
		fmt.Fprintf(&b, " The most recent was a %s intake on %s", r.Source, r.CreatedAt.UTC().Format(time.DateOnly))
		if r.Urgency != "" {
			fmt.Fprintf(&b, ", assessed as %s urgency", r.Urgency)
		}
		fmt.Fprintf(&b, ", %s.", statusPhrase(r.Status))

		if symptoms := reported(r); len(symptoms) > 0 {
			fmt.Fprintf(&b, " Reported: %s.", strings.Join(symptoms, ", "))
		}
		if r.RecommendedAction != "" {
			fmt.Fprintf(&b, " Advice given: %s", r.RecommendedAction)
		}
	}

	if n := len(s.OpenAlerts); n > 0 {
		fmt.Fprintf(&b, " %s open.", plural(n, "alert"))
	}
	return b.String()
}

func reported(r *triage.Result) []string {
	if len(r.Symptoms) > 0 {
		return r.Symptoms
	}
	return r.MatchedKeywords
}

func statusPhrase(s triage.Status) string {
	switch s {
	case triage.StatusInProgress:
		return "still in progress"
	case triage.StatusReviewed:
		return "reviewed by staff"
	default:
		return "awaiting review"
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
