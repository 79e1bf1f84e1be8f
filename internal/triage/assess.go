package triage

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxSymptoms       = 20
	maxSymptomLen     = 100
	maxDescriptionLen = 2000
	maxNotesLen       = 2000
	maxDurationDays   = 365
)

// FormIntake is the structured symptom form.
type FormIntake struct {
	PatientID    uuid.UUID `json:"patient_id"`
	Symptoms     []string  `json:"symptoms"`
	Description  string    `json:"description"`
	Severity     int       `json:"severity"`
	DurationDays int       `json:"duration_days"`
	Notes        string    `json:"notes"`
}

// Assessment is the outcome of applying the triage rules.
type Assessment struct {
	Urgency           Urgency
	RecommendedAction string
	RedFlags          []string
}

// Recommended actions per urgency.
var recommendedActions = map[Urgency]string{
	UrgencyHigh:   "Seek emergency care now. Call your local emergency number or go to the nearest emergency department.",
	UrgencyMedium: "Book an appointment with a doctor within 24 to 48 hours. Call back sooner if symptoms get worse.",
	UrgencyLow:    "Rest, stay hydrated and monitor your symptoms at home. Contact the clinic if they persist or worsen.",
}

// RecommendedAction returns the fixed action text for u.
func RecommendedAction(u Urgency) string {
	return recommendedActions[u]
}

// redFlags are symptom phrases that always escalate to high urgency.
var redFlags = []string{
	"chest pain",
	"difficulty breathing",
	"shortness of breath",
	"can't breathe",
	"unconscious",
	"fainted",
	"seizure",
	"severe bleeding",
	"coughing blood",
	"vomiting blood",
	"slurred speech",
	"face drooping",
	"numbness on one side",
	"suicidal",
	"overdose",
	"anaphylaxis",
	"throat swelling",
}

// Normalize trims symptoms, drops empties and lower-cases for matching.
// The original casing is kept for display.
func (f *FormIntake) Normalize() {
	out := f.Symptoms[:0]
	for _, s := range f.Symptoms {
		s = strings.Join(strings.Fields(s), " ")
		if s != "" {
			out = append(out, s)
		}
	}
	f.Symptoms = out
	f.Description = strings.TrimSpace(f.Description)
	f.Notes = strings.TrimSpace(f.Notes)
}

// Validate checks the form after Normalize.
func (f *FormIntake) Validate() error {
	verr := &ValidationError{}

	if len(f.Symptoms) == 0 && f.Description == "" {
		verr.add("symptoms", "at least one symptom or a description is required")
	}
	if len(f.Symptoms) > maxSymptoms {
		verr.add("symptoms", fmt.Sprintf("at most %d symptoms", maxSymptoms))
	}
	for _, s := range f.Symptoms {
		if utf8.RuneCountInString(s) > maxSymptomLen {
			verr.add("symptoms", fmt.Sprintf("each symptom must be at most %d characters", maxSymptomLen))
		}
	}
	if utf8.RuneCountInString(f.Description) > maxDescriptionLen {
		verr.add("description", fmt.Sprintf("at most %d characters", maxDescriptionLen))
	}
	if f.Severity < 1 || f.Severity > 10 {
		verr.add("severity", "must be between 1 and 10")
	}
	if f.DurationDays < 0 || f.DurationDays > maxDurationDays {
		verr.add("duration_days", fmt.Sprintf("must be between 0 and %d", maxDurationDays))
	}
	if utf8.RuneCountInString(f.Notes) > maxNotesLen {
		verr.add("notes", fmt.Sprintf("at most %d characters", maxNotesLen))
	}

	return verr.orNil()
}

// Assess applies the form rules. Red flags or severity >= 8 give high;
// severity >= 5, more than a week's duration or three or more symptoms give
// medium; everything else is low.
func Assess(f *FormIntake) Assessment {
	text := strings.ToLower(strings.Join(f.Symptoms, " | ") + " | " + f.Description)

	var flags []string
	for _, rf := range redFlags {
		if strings.Contains(text, rf) {
			flags = append(flags, rf)
		}
	}

	var u Urgency
	switch {
	case len(flags) > 0 || f.Severity >= 8:
		u = UrgencyHigh
	case f.Severity >= 5 || f.DurationDays > 7 || len(f.Symptoms) >= 3:
		u = UrgencyMedium
	default:
		u = UrgencyLow
	}

	return Assessment{
		Urgency:           u,
		RecommendedAction: RecommendedAction(u),
		RedFlags:          flags,
	}
}
