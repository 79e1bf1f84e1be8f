// Package claude writes case summary narratives with the Claude API.
package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Mirudhula24/smart-triage/internal/summary"
	"github.com/Mirudhula24/smart-triage/internal/triage"
)

const (
	defaultMaxTokens = 400
	requestTimeout   = 30 * time.Second
	maxTranscript    = 20
)

const systemPrompt = `You write short handover notes for clinic triage staff.
Summarise the patient's triage history in at most four sentences of plain prose.
Lead with the most urgent open concern. Do not invent symptoms, diagnoses or
advice that are not in the data. Do not use lists or headings.`

// Narrator implements summary.Narrator using the Anthropic SDK.
type Narrator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Narrator. Extra request options are passed to the SDK
// client (tests use them to point at a local server).
func New(apiKey, model string, opts ...option.RequestOption) *Narrator {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(requestTimeout),
	}, opts...)
	return &Narrator{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

// Narrate implements summary.Narrator.
func (n *Narrator) Narrate(ctx context.Context, s *summary.CaseSummary) (string, error) {
	msg, err := n.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(n.model),
		MaxTokens: n.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(s))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}

	text := textFromMessage(msg)
	if text == "" {
		return "", fmt.Errorf("claude returned no text (stop reason %s)", msg.StopReason)
	}
	return text, nil
}

// buildPrompt renders the summary as plain data. Names, email and phone are
// left out; the model only sees clinical fields.
func buildPrompt(s *summary.CaseSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Total results: %d (high %d, medium %d, low %d)\n",
		s.Total, s.Counts[triage.UrgencyHigh], s.Counts[triage.UrgencyMedium], s.Counts[triage.UrgencyLow])
	fmt.Fprintf(&b, "Open alerts: %d\n", len(s.OpenAlerts))

	if s.Patient != nil && s.Patient.DateOfBirth != nil {
		fmt.Fprintf(&b, "Age: %d\n", age(*s.Patient.DateOfBirth, s.GeneratedAt))
	}

	if r := s.Latest; r != nil {
		b.WriteString("\nMost recent result:\n")
		writeResult(&b, r)
		if c := r.Conversation; c != nil && len(c.Turns) > 0 {
			b.WriteString("Chat transcript (patient messages):\n")
			n := 0
			for _, t := range c.Turns {
				if t.Role != triage.RolePatient {
					continue
				}
				if n == maxTranscript {
					b.WriteString("- ...\n")
					break
				}
				fmt.Fprintf(&b, "- %s\n", t.Content)
				n++
			}
		}
	}

	if len(s.History) > 1 {
		b.WriteString("\nEarlier results, newest first:\n")
		for _, r := range s.History[1:] {
			writeResult(&b, r)
		}
	}
	return b.String()
}

func writeResult(b *strings.Builder, r *triage.Result) {
	fmt.Fprintf(b, "- %s %s intake, urgency %s, status %s",
		r.CreatedAt.UTC().Format(time.DateOnly), r.Source, orNone(string(r.Urgency)), r.Status)
	if len(r.Symptoms) > 0 {
		fmt.Fprintf(b, ", symptoms: %s", strings.Join(r.Symptoms, ", "))
	}
	if r.Severity > 0 {
		fmt.Fprintf(b, ", severity %d/10", r.Severity)
	}
	if r.DurationDays > 0 {
		fmt.Fprintf(b, ", %d days", r.DurationDays)
	}
	if len(r.MatchedKeywords) > 0 {
		fmt.Fprintf(b, ", flagged: %s", strings.Join(r.MatchedKeywords, ", "))
	}
	if r.Description != "" {
		fmt.Fprintf(b, ", description: %q", r.Description)
	}
	b.WriteString("\n")
}

// textFromMessage joins the text blocks of a response.
func textFromMessage(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}

func age(dob, at time.Time) int {
	years := at.Year() - dob.Year()
	if at.Month() < dob.Month() || (at.Month() == dob.Month() && at.Day() < dob.Day()) {
		years--
	}
	return max(years, 0)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
