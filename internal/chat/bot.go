// Package chat runs the rule-based chat intake. Each patient message is
// matched against a fixed keyword rule list; the matched rule picks a canned
// reply and an urgency, and the chat closes with the highest urgency seen.
package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/Mirudhula24/smart-triage/internal/access"
	"github.com/Mirudhula24/smart-triage/internal/triage"
)

const (
	// DefaultMaxTurns is the patient message limit when none is configured
	DefaultMaxTurns = 8

	maxMessageLen = 1000
)

// Intake is the slice of triage.Service the bot drives.
type Intake interface {
	Open(ctx context.Context, p access.Principal, patientID uuid.UUID) (*triage.Result, error)
	Get(ctx context.Context, p access.Principal, id string) (*triage.Result, error)
	RecordTurn(ctx context.Context, p access.Principal, id string, turn triage.Turn) (*triage.Result, error)
	Complete(ctx context.Context, p access.Principal, id string, urgency triage.Urgency, keywords []string) (*triage.Result, error)
}

// Reply is what the bot returns for each exchange.
type Reply struct {
	Result   *triage.Result `json:"result"`
	Message  string         `json:"message"`
	Urgency  triage.Urgency `json:"urgency,omitempty"`
	Keywords []string       `json:"keywords,omitempty"`
	Complete bool           `json:"complete"`
}

// Bot holds no conversation state of its own; the transcript lives on the
// triage result.
type Bot struct {
	intake   Intake
	logger   log.Logger
	maxTurns int

	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a chat bot. maxTurns <= 0 uses DefaultMaxTurns.
func New(intake Intake, logger log.Logger, maxTurns int) *Bot {
	if intake == nil {
		panic(xerrors.New("chat intake is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Bot{
		intake:   intake,
		logger:   logger,
		maxTurns: maxTurns,
		locks:    make(map[string]*chatLock),
	}
}

// Start opens a chat for patientID (the caller when nil) and records the
// greeting.
func (b *Bot) Start(ctx context.Context, p access.Principal, patientID uuid.UUID) (*Reply, error) {
	r, err := b.intake.Open(ctx, p, patientID)
	if err != nil {
		return nil, err
	}

	greeting := Greeting()
	r, err = b.intake.RecordTurn(ctx, p, r.ID, triage.Turn{Role: triage.RoleBot, Content: greeting})
	if err != nil {
		return nil, fmt.Errorf("record greeting: %w", err)
	}

	b.logger.Info(ctx, "chat started", "triage_id", r.ID)
	return &Reply{Result: r, Message: greeting}, nil
}

// Send records a patient message and the bot's answer, completing the chat
// when a high urgency rule matches, the patient signs off or the turn limit
// is reached.
func (b *Bot) Send(ctx context.Context, p access.Principal, id, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message is empty", triage.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return nil, fmt.Errorf("%w: message longer than %d characters", triage.ErrInvalidInput, maxMessageLen)
	}

	unlock := b.lock(id)
	defer unlock()

	L := b.logger.With("triage_id", id)

	r, err := b.intake.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if r.Source != triage.SourceChat || r.Status != triage.StatusInProgress {
		return nil, fmt.Errorf("%w: chat %s is %s", triage.ErrConflict, id, r.Status)
	}

	m := MatchMessage(text)
	r, err = b.intake.RecordTurn(ctx, p, id, triage.Turn{
		Role:     triage.RolePatient,
		Content:  text,
		Keywords: m.Keywords,
		Urgency:  m.Urgency,
	})
	if err != nil {
		return nil, err
	}

	closing := isClosing(text)
	turns := r.Conversation.PatientTurns()
	done := m.Urgency == triage.UrgencyHigh || closing || turns >= b.maxTurns

	message := m.Response
	if closing && !m.Matched {
		message = responses[respClosing]
	}

	var final triage.Urgency
	var keywords []string
	if done {
		final, keywords = summarize(r.Conversation)
		message += "\n\n" + completionMessage(final)
	}

	r, err = b.intake.RecordTurn(ctx, p, id, triage.Turn{Role: triage.RoleBot, Content: message})
	if err != nil {
		return nil, fmt.Errorf("record reply: %w", err)
	}

	if done {
		r, err = b.intake.Complete(ctx, p, id, final, keywords)
		if err != nil {
			return nil, fmt.Errorf("complete chat: %w", err)
		}
		L.Info(ctx, "chat completed",
			"urgency", string(final),
			"patient_turns", turns,
			"closing", closing,
		)
	}

	return &Reply{
		Result:   r,
		Message:  message,
		Urgency:  m.Urgency,
		Keywords: m.Keywords,
		Complete: done,
	}, nil
}

// summarize returns the highest urgency across patient turns (low when none
// matched) and the distinct keywords in order of first appearance.
func summarize(c *triage.Conversation) (triage.Urgency, []string) {
	final := triage.UrgencyLow
	var keywords []string
	if c == nil {
		return final, nil
	}
	for _, t := range c.Turns {
		if t.Role != triage.RolePatient {
			continue
		}
		final = final.Max(t.Urgency)
		for _, kw := range t.Keywords {
			if !slices.Contains(keywords, kw) {
				keywords = append(keywords, kw)
			}
		}
	}
	return final, keywords
}

func completionMessage(u triage.Urgency) string {
	return fmt.Sprintf("Based on what you've told me, I've marked this as %s urgency. %s A member of our clinical team will review your case.",
		u, triage.RecommendedAction(u))
}

// lock serialises Send calls per chat so turn sequence numbers do not race.
func (b *Bot) lock(id string) func() {
	b.mu.Lock()
	l, ok := b.locks[id]
	if !ok {
		l = &chatLock{}
		b.locks[id] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, id)
		}
		b.mu.Unlock()
	}
}
