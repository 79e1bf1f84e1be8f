package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/Mirudhula24/smart-triage/internal/access"
)

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 200
)

// Service is the business boundary for triage operations. Every method takes
// the calling principal and applies the row policy before touching the store;
// the principal is also put on the context so database RLS sees it.
type Service struct {
	store     Store
	logger    log.Logger
	metrics   *Metrics
	notifier  Notifier
	publisher Publisher
	now       func() time.Time
}

// NewService creates a new triage service. metrics, notifier and publisher
// may be nil.
func NewService(store Store, logger log.Logger, metrics *Metrics, notifier Notifier, publisher Publisher) *Service {
	if store == nil {
		panic(xerrors.New("triage store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:     store,
		logger:    logger,
		metrics:   metrics,
		notifier:  notifier,
		publisher: publisher,
		now:       time.Now,
	}
}

// SubmitForm validates and assesses a form intake and stores the result.
func (s *Service) SubmitForm(ctx context.Context, p access.Principal, in FormIntake) (*Result, error) {
	ctx = access.WithPrincipal(ctx, p)

	if in.PatientID == uuid.Nil {
		in.PatientID = p.UserID
	}
	if !p.Authenticated() || !p.CanWritePatient(in.PatientID) {
		s.metrics.submit(SourceForm, "forbidden")
		return nil, ErrForbidden
	}

	in.Normalize()
	if err := in.Validate(); err != nil {
		s.metrics.submit(SourceForm, "invalid")
		return nil, err
	}

	as := Assess(&in)
	now := s.now().UTC()
	result := &Result{
		ID:                ulid.Make().String(),
		PatientID:         in.PatientID,
		SubmittedBy:       p.UserID,
		Source:            SourceForm,
		Status:            StatusComplete,
		Urgency:           as.Urgency,
		RecommendedAction: as.RecommendedAction,
		Symptoms:          in.Symptoms,
		Description:       in.Description,
		Severity:          in.Severity,
		DurationDays:      in.DurationDays,
		Notes:             in.Notes,
		MatchedKeywords:   as.RedFlags,
		CreatedAt:         now,
		UpdatedAt:         now,
		CompletedAt:       now,
	}

	if err := s.store.Put(ctx, result); err != nil {
		if errors.Is(err, ErrUnknownPatient) {
			s.metrics.submit(SourceForm, "invalid")
			return nil, err
		}
		s.metrics.submit(SourceForm, "error")
		return nil, fmt.Errorf("put result: %w", err)
	}
	s.metrics.submit(SourceForm, "accepted")
	s.metrics.completed(result)

	s.logger.Info(ctx, "form intake assessed",
		"triage_id", result.ID,
		"urgency", string(result.Urgency),
		"red_flags", len(as.RedFlags),
	)

	s.publish(ctx, EventResultCreated, result)
	if err := s.raiseAlertIfUrgent(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Open starts a chat intake for patientID.
func (s *Service) Open(ctx context.Context, p access.Principal, patientID uuid.UUID) (*Result, error) {
	ctx = access.WithPrincipal(ctx, p)

	if patientID == uuid.Nil {
		patientID = p.UserID
	}
	if !p.Authenticated() || !p.CanWritePatient(patientID) {
		s.metrics.submit(SourceChat, "forbidden")
		return nil, ErrForbidden
	}

	now := s.now().UTC()
	result := &Result{
		ID:          ulid.Make().String(),
		PatientID:   patientID,
		SubmittedBy: p.UserID,
		Source:      SourceChat,
		Status:      StatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Put(ctx, result); err != nil {
		if errors.Is(err, ErrUnknownPatient) {
			s.metrics.submit(SourceChat, "invalid")
			return nil, err
		}
		s.metrics.submit(SourceChat, "error")
		return nil, fmt.Errorf("put result: %w", err)
	}
	s.metrics.submit(SourceChat, "accepted")

	s.publish(ctx, EventResultCreated, result)
	return result, nil
}

// RecordTurn appends a chat turn to an open chat intake and returns the
// result with the turn included.
func (s *Service) RecordTurn(ctx context.Context, p access.Principal, id string, turn Turn) (*Result, error) {
	ctx = access.WithPrincipal(ctx, p)

	result, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !p.CanWritePatient(result.PatientID) {
		return nil, ErrForbidden
	}
	if result.Source != SourceChat || result.Status != StatusInProgress {
		return nil, fmt.Errorf("%w: chat %s is %s", ErrConflict, id, result.Status)
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now().UTC()
	}
	if result.Conversation == nil {
		result.Conversation = &Conversation{}
	}
	seq := len(result.Conversation.Turns)
	if err := s.store.AppendTurn(ctx, id, seq, &turn); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}
	result.Conversation.Turns = append(result.Conversation.Turns, turn)
	s.metrics.turn(&turn)

	return result, nil
}

// Complete finalises an open chat intake with the given urgency.
func (s *Service) Complete(ctx context.Context, p access.Principal, id string, urgency Urgency, keywords []string) (*Result, error) {
	ctx = access.WithPrincipal(ctx, p)

	if urgency.Rank() == 0 {
		return nil, fmt.Errorf("%w: urgency is required", ErrInvalidInput)
	}

	result, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !p.CanWritePatient(result.PatientID) {
		return nil, ErrForbidden
	}
	if result.Status != StatusInProgress {
		return nil, fmt.Errorf("%w: result %s is %s", ErrConflict, id, result.Status)
	}

	now := s.now().UTC()
	result.Status = StatusComplete
	result.Urgency = urgency
	result.RecommendedAction = RecommendedAction(urgency)
	result.MatchedKeywords = keywords
	result.CompletedAt = now
	result.UpdatedAt = now

	if err := s.store.Put(ctx, result); err != nil {
		return nil, fmt.Errorf("put result: %w", err)
	}
	s.metrics.completed(result)

	s.logger.Info(ctx, "chat intake assessed",
		"triage_id", result.ID,
		"urgency", string(result.Urgency),
		"patient_turns", result.Conversation.PatientTurns(),
	)

	s.publish(ctx, EventResultCompleted, result)
	if err := s.raiseAlertIfUrgent(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Get retrieves a result visible to p. Rows the policy hides are reported
// as not found.
func (s *Service) Get(ctx context.Context, p access.Principal, id string) (*Result, error) {
	ctx = access.WithPrincipal(ctx, p)

	result, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	if !ok || !p.CanReadPatient(result.PatientID) {
		return nil, ErrNotFound
	}
	return result, nil
}

// List returns results visible to p, newest first. Patients only ever see
// their own rows whatever the filter says.
func (s *Service) List(ctx context.Context, p access.Principal, f ResultFilter) ([]*Result, error) {
	ctx = access.WithPrincipal(ctx, p)

	if !p.Authenticated() {
		return nil, ErrForbidden
	}
	if !p.IsStaff() {
		f.PatientID = p.UserID
	}
	results, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

// Queue returns assessed results awaiting review in priority order.
func (s *Service) Queue(ctx context.Context, p access.Principal, limit int) ([]*Result, error) {
	ctx = access.WithPrincipal(ctx, p)

	if !p.IsStaff() {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	limit = min(limit, maxQueueLimit)

	results, err := s.store.List(ctx, ResultFilter{Statuses: []Status{StatusComplete}})
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	SortQueue(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Review marks an assessed result as handled, removing it from the queue.
func (s *Service) Review(ctx context.Context, p access.Principal, id string) (*Result, error) {
	ctx = access.WithPrincipal(ctx, p)

	if !p.CanReview() {
		return nil, ErrForbidden
	}
	result, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if result.Status != StatusComplete {
		return nil, fmt.Errorf("%w: result %s is %s", ErrConflict, id, result.Status)
	}

	now := s.now().UTC()
	reviewer := p.UserID
	result.Status = StatusReviewed
	result.ReviewedBy = &reviewer
	result.ReviewedAt = now
	result.UpdatedAt = now

	if err := s.store.Put(ctx, result); err != nil {
		return nil, fmt.Errorf("put result: %w", err)
	}
	s.metrics.reviewed(now.Sub(result.CreatedAt).Seconds())

	s.publish(ctx, EventResultReviewed, result)
	return result, nil
}

// Alerts lists alerts, newest first. Staff only.
func (s *Service) Alerts(ctx context.Context, p access.Principal, f AlertFilter) ([]*Alert, error) {
	ctx = access.WithPrincipal(ctx, p)

	if !p.CanReadAlerts() {
		return nil, ErrForbidden
	}
	alerts, err := s.store.ListAlerts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge closes an open alert.
func (s *Service) Acknowledge(ctx context.Context, p access.Principal, id string) (*Alert, error) {
	ctx = access.WithPrincipal(ctx, p)

	if !p.CanReadAlerts() {
		return nil, ErrForbidden
	}
	al, ok, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !al.Open() {
		return nil, fmt.Errorf("%w: alert %s already acknowledged", ErrConflict, id)
	}

	by := p.UserID
	al.AcknowledgedAt = s.now().UTC()
	al.AcknowledgedBy = &by
	if err := s.store.PutAlert(ctx, al); err != nil {
		return nil, fmt.Errorf("put alert: %w", err)
	}
	s.metrics.alertAcknowledged()

	s.publishAlert(ctx, EventAlertAcknowledged, al)
	return al, nil
}

// Analytics summarises results created since the given time. Staff only.
func (s *Service) Analytics(ctx context.Context, p access.Principal, since time.Time) (*Analytics, error) {
	ctx = access.WithPrincipal(ctx, p)

	if !p.IsStaff() {
		return nil, ErrForbidden
	}
	results, err := s.store.List(ctx, ResultFilter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	alerts, err := s.store.ListAlerts(ctx, AlertFilter{OnlyOpen: true})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return computeAnalytics(since, results, alerts), nil
}

// raiseAlertIfUrgent stores an alert for a high urgency result and hands it
// to the notifier in the background.
func (s *Service) raiseAlertIfUrgent(ctx context.Context, r *Result) error {
	if r.Urgency != UrgencyHigh {
		return nil
	}

	al := &Alert{
		ID:        ulid.Make().String(),
		TriageID:  r.ID,
		PatientID: r.PatientID,
		Urgency:   r.Urgency,
		Message:   alertMessage(r),
		CreatedAt: s.now().UTC(),
	}
	// alerts are written with the service principal: patients may raise
	// them but not read them back
	sctx := access.WithPrincipal(ctx, access.Service())
	if err := s.store.PutAlert(sctx, al); err != nil {
		return fmt.Errorf("put alert: %w", err)
	}
	s.metrics.alertRaised()

	s.logger.Warn(ctx, "high urgency alert raised",
		"alert_id", al.ID,
		"triage_id", r.ID,
		"source", string(r.Source),
	)

	s.publishAlert(ctx, EventAlertRaised, al)

	if s.notifier != nil {
		go s.notify(context.WithoutCancel(sctx), al)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, al *Alert) {
	if err := s.notifier.Send(ctx, al); err != nil {
		s.metrics.notifyFailed()
		s.logger.Error(ctx, err, "alert notification failed", "alert_id", al.ID)
	}
}

func (s *Service) publish(ctx context.Context, typ EventType, r *Result) {
	if s.publisher == nil {
		return
	}
	cp := *r
	cp.Conversation = nil
	if err := s.publisher.Publish(ctx, Event{Type: typ, Result: &cp, At: s.now().UTC()}); err != nil {
		s.logger.Error(ctx, err, "publish result event failed", "type", string(typ), "triage_id", r.ID)
	}
}

func (s *Service) publishAlert(ctx context.Context, typ EventType, al *Alert) {
	if s.publisher == nil {
		return
	}
	cp := *al
	if err := s.publisher.Publish(ctx, Event{Type: typ, Alert: &cp, At: s.now().UTC()}); err != nil {
		s.logger.Error(ctx, err, "publish alert event failed", "type", string(typ), "alert_id", al.ID)
	}
}

func alertMessage(r *Result) string {
	what := "chat intake"
	if r.Source == SourceForm {
		what = "form intake"
	}
	if len(r.MatchedKeywords) > 0 {
		return fmt.Sprintf("High urgency %s: %s", what, joinLimit(r.MatchedKeywords, 3))
	}
	if r.Severity > 0 {
		return fmt.Sprintf("High urgency %s: severity %d/10", what, r.Severity)
	}
	return fmt.Sprintf("High urgency %s", what)
}

func joinLimit(items []string, n int) string {
	out := ""
	for i, it := range items {
		if i == n {
			out += fmt.Sprintf(" (+%d more)", len(items)-n)
			break
		}
		if i > 0 {
			out += ", "
		}
		out += it
	}
	return out
}
