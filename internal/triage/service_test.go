package triage

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Mirudhula24/smart-triage/internal/access"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu      sync.Mutex
	results map[string]*Result
	turns   map[string][]Turn
	alerts  map[string]*Alert
	putErr  error
	getErr  error
	lastCtx context.Context
}

func newMockStore() *mockStore {
	return &mockStore{
		results: make(map[string]*Result),
		turns:   make(map[string][]Turn),
		alerts:  make(map[string]*Alert),
	}
}

func (m *mockStore) Get(ctx context.Context, id string) (*Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCtx = ctx
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	r, ok := m.results[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	if turns := m.turns[id]; len(turns) > 0 {
		cp.Conversation = &Conversation{Turns: slices.Clone(turns)}
	}
	return &cp, true, nil
}

func (m *mockStore) Put(ctx context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCtx = ctx
	if m.putErr != nil {
		return m.putErr
	}
	cp := *r
	cp.Conversation = nil
	m.results[r.ID] = &cp
	return nil
}

func (m *mockStore) List(_ context.Context, f ResultFilter) ([]*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Result
	for _, r := range m.results {
		if f.PatientID != uuid.Nil && r.PatientID != f.PatientID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) AppendTurn(_ context.Context, id string, seq int, t *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != len(m.turns[id]) {
		return errors.New("sequence gap")
	}
	m.turns[id] = append(m.turns[id], *t)
	return nil
}

func (m *mockStore) PutAlert(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *mockStore) GetAlert(_ context.Context, id string) (*Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

func (m *mockStore) ListAlerts(_ context.Context, f AlertFilter) ([]*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Alert
	for _, a := range m.alerts {
		if f.OnlyOpen && !a.Open() {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

type mockNotifier struct {
	sent chan *Alert
	err  error
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{sent: make(chan *Alert, 4)}
}

func (n *mockNotifier) Send(_ context.Context, a *Alert) error {
	n.sent <- a
	return n.err
}

type mockPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *mockPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *mockPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

var (
	patientA = access.Principal{UserID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Role: access.RolePatient}
	patientB = access.Principal{UserID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), Role: access.RolePatient}
	nurse    = access.Principal{UserID: uuid.MustParse("00000000-0000-0000-0000-0000000000c1"), Role: access.RoleStaff}
)

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func newTestService(store Store, n Notifier, p Publisher) *Service {
	return NewService(store, log.Nop(), nil, n, p)
}

func TestNewService_NilStorePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil store")
		}
	}()
	NewService(nil, log.Nop(), nil, nil, nil)
}

func TestSubmitForm_LowUrgency(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	pub := &mockPublisher{}
	svc := newTestService(store, nil, pub)

	r, err := svc.SubmitForm(context.Background(), patientA, FormIntake{
		Symptoms: []string{"  runny   nose "},
		Severity: 2,
	})
	if err != nil {
		t.Fatalf("SubmitForm: %v", err)
	}
	if r.Urgency != UrgencyLow {
		t.Errorf("urgency = %q, want low", r.Urgency)
	}
	if r.Status != StatusComplete {
		t.Errorf("status = %q, want complete", r.Status)
	}
	if r.PatientID != patientA.UserID {
		t.Errorf("patient = %s, want caller", r.PatientID)
	}
	if r.Symptoms[0] != "runny nose" {
		t.Errorf("symptom = %q, want normalized", r.Symptoms[0])
	}
	if r.RecommendedAction == "" {
		t.Error("expected recommended action")
	}
	if store.alertCount() != 0 {
		t.Error("low urgency must not raise an alert")
	}
	if got := pub.types(); !slices.Equal(got, []EventType{EventResultCreated}) {
		t.Errorf("events = %v", got)
	}

	p, ok := access.FromContext(store.lastCtx)
	if !ok || p.UserID != patientA.UserID {
		t.Error("expected caller principal on store context")
	}
}

func TestSubmitForm_HighUrgencyRaisesAlert(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	n := newMockNotifier()
	pub := &mockPublisher{}
	svc := newTestService(store, n, pub)

	r, err := svc.SubmitForm(context.Background(), patientA, FormIntake{
		Symptoms: []string{"Chest pain", "sweating"},
		Severity: 6,
	})
	if err != nil {
		t.Fatalf("SubmitForm: %v", err)
	}
	if r.Urgency != UrgencyHigh {
		t.Fatalf("urgency = %q, want high", r.Urgency)
	}

	select {
	case a := <-n.sent:
		if a.TriageID != r.ID {
			t.Errorf("alert triage = %q, want %q", a.TriageID, r.ID)
		}
		if a.Message != "High urgency form intake: chest pain" {
			t.Errorf("message = %q", a.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not called")
	}

	if store.alertCount() != 1 {
		t.Errorf("alerts = %d, want 1", store.alertCount())
	}
	if got := pub.types(); !slices.Equal(got, []EventType{EventResultCreated, EventAlertRaised}) {
		t.Errorf("events = %v", got)
	}
}

func TestSubmitForm_NotifyFailureCounted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	n := newMockNotifier()
	n.err = errors.New("slack down")
	svc := NewService(newMockStore(), log.Nop(), m, n, nil)

	if _, err := svc.SubmitForm(context.Background(), patientA, FormIntake{Symptoms: []string{"seizure"}, Severity: 3}); err != nil {
		t.Fatalf("SubmitForm: %v", err)
	}
	<-n.sent

	deadline := time.Now().Add(2 * time.Second)
	for counterValue(m.NotifyFailures) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("notify failure not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := counterValue(m.AlertsRaised); got != 1 {
		t.Errorf("alerts raised = %v, want 1", got)
	}
	if got := counterValue(m.SubmitsTotal.WithLabelValues("form", "accepted")); got != 1 {
		t.Errorf("accepted submits = %v, want 1", got)
	}
}

func TestSubmitForm_Validation(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil)

	_, err := svc.SubmitForm(context.Background(), patientA, FormIntake{Severity: 11})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatal("expected *ValidationError")
	}
	if _, ok := verr.Fields["severity"]; !ok {
		t.Error("expected severity field error")
	}
	if _, ok := verr.Fields["symptoms"]; !ok {
		t.Error("expected symptoms field error")
	}
}

func TestSubmitForm_Policy(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil)
	in := FormIntake{PatientID: patientB.UserID, Symptoms: []string{"cough"}, Severity: 2}

	if _, err := svc.SubmitForm(context.Background(), patientA, in); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient for another patient: err = %v, want ErrForbidden", err)
	}
	if _, err := svc.SubmitForm(context.Background(), access.Principal{}, in); !errors.Is(err, ErrForbidden) {
		t.Errorf("anonymous: err = %v, want ErrForbidden", err)
	}

	r, err := svc.SubmitForm(context.Background(), nurse, in)
	if err != nil {
		t.Fatalf("staff on behalf: %v", err)
	}
	if r.PatientID != patientB.UserID || r.SubmittedBy != nurse.UserID {
		t.Errorf("patient=%s submitted_by=%s", r.PatientID, r.SubmittedBy)
	}
}

func TestSubmitForm_StoreError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.putErr = errors.New("disk full")
	svc := newTestService(store, nil, nil)

	_, err := svc.SubmitForm(context.Background(), patientA, FormIntake{Symptoms: []string{"cough"}, Severity: 2})
	if err == nil || errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want store error", err)
	}
}

func TestIntake_UnknownPatient(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.putErr = ErrUnknownPatient
	svc := newTestService(store, nil, nil)
	ctx := context.Background()

	_, err := svc.SubmitForm(ctx, nurse, FormIntake{PatientID: uuid.New(), Symptoms: []string{"cough"}, Severity: 2})
	if !errors.Is(err, ErrUnknownPatient) || !errors.Is(err, ErrInvalidInput) {
		t.Errorf("SubmitForm: err = %v, want ErrUnknownPatient", err)
	}
	if _, err := svc.Open(ctx, nurse, uuid.New()); !errors.Is(err, ErrUnknownPatient) {
		t.Errorf("Open: err = %v, want ErrUnknownPatient", err)
	}
}

func TestGet_HidesOtherPatients(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil)
	r, err := svc.SubmitForm(context.Background(), patientA, FormIntake{Symptoms: []string{"cough"}, Severity: 2})
	if err != nil {
		t.Fatalf("SubmitForm: %v", err)
	}

	if _, err := svc.Get(context.Background(), patientB, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("other patient: err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Get(context.Background(), patientA, r.ID); err != nil {
		t.Errorf("owner: %v", err)
	}
	if _, err := svc.Get(context.Background(), nurse, r.ID); err != nil {
		t.Errorf("staff: %v", err)
	}
	if _, err := svc.Get(context.Background(), nurse, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}
}

func TestList_PatientScopedToSelf(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil)
	ctx := context.Background()
	for _, p := range []access.Principal{patientA, patientB, patientB} {
		if _, err := svc.SubmitForm(ctx, p, FormIntake{Symptoms: []string{"cough"}, Severity: 2}); err != nil {
			t.Fatalf("SubmitForm: %v", err)
		}
	}

	got, err := svc.List(ctx, patientA, ResultFilter{PatientID: patientB.UserID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].PatientID != patientA.UserID {
		t.Errorf("patient list = %d rows, want own 1", len(got))
	}

	got, err = svc.List(ctx, nurse, ResultFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("staff list = %d rows, want 3", len(got))
	}
}

func TestChatLifecycle(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	pub := &mockPublisher{}
	svc := newTestService(store, nil, pub)
	ctx := context.Background()

	r, err := svc.Open(ctx, patientA, uuid.Nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Status != StatusInProgress || r.Source != SourceChat {
		t.Fatalf("opened = %s/%s", r.Source, r.Status)
	}

	r, err = svc.RecordTurn(ctx, patientA, r.ID, Turn{Role: RolePatient, Content: "I have a fever", Urgency: UrgencyMedium})
	if err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	r, err = svc.RecordTurn(ctx, patientA, r.ID, Turn{Role: RoleBot, Content: "How long?"})
	if err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	if got := len(r.Conversation.Turns); got != 2 {
		t.Fatalf("turns = %d, want 2", got)
	}
	if r.Conversation.Turns[0].Timestamp.IsZero() {
		t.Error("expected timestamp set")
	}

	if _, err := svc.RecordTurn(ctx, patientB, r.ID, Turn{Role: RolePatient, Content: "hi"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("other patient turn: err = %v, want ErrNotFound", err)
	}

	r, err = svc.Complete(ctx, patientA, r.ID, UrgencyMedium, []string{"fever"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if r.Status != StatusComplete || r.CompletedAt.IsZero() {
		t.Errorf("completed = %s at %v", r.Status, r.CompletedAt)
	}
	if r.RecommendedAction != RecommendedAction(UrgencyMedium) {
		t.Errorf("action = %q", r.RecommendedAction)
	}

	if _, err := svc.RecordTurn(ctx, patientA, r.ID, Turn{Role: RolePatient, Content: "more"}); !errors.Is(err, ErrConflict) {
		t.Errorf("turn after complete: err = %v, want ErrConflict", err)
	}
	if _, err := svc.Complete(ctx, patientA, r.ID, UrgencyLow, nil); !errors.Is(err, ErrConflict) {
		t.Errorf("second complete: err = %v, want ErrConflict", err)
	}

	want := []EventType{EventResultCreated, EventResultCompleted}
	if got := pub.types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestComplete_RequiresUrgency(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil)
	r, err := svc.Open(context.Background(), patientA, uuid.Nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := svc.Complete(context.Background(), patientA, r.ID, "", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestComplete_HighChatRaisesAlert(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, nil, nil)
	ctx := context.Background()

	r, err := svc.Open(ctx, patientA, uuid.Nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := svc.Complete(ctx, patientA, r.ID, UrgencyHigh, []string{"chest pain"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	alerts, err := svc.Alerts(ctx, nurse, AlertFilter{OnlyOpen: true})
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Message != "High urgency chat intake: chest pain" {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestQueue_OrderAndAccess(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, nil, nil)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}
	ctx := context.Background()

	low, _ := svc.SubmitForm(ctx, patientA, FormIntake{Symptoms: []string{"cough"}, Severity: 1})
	med, _ := svc.SubmitForm(ctx, patientA, FormIntake{Symptoms: []string{"cough"}, Severity: 5})
	high, _ := svc.SubmitForm(ctx, patientB, FormIntake{Symptoms: []string{"cough"}, Severity: 9})
	med2, _ := svc.SubmitForm(ctx, patientB, FormIntake{Symptoms: []string{"cough"}, Severity: 6})
	if _, err := svc.Open(ctx, patientA, uuid.Nil); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := svc.Queue(ctx, patientA, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient queue: err = %v, want ErrForbidden", err)
	}

	q, err := svc.Queue(ctx, nurse, 0)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	var got []string
	for _, r := range q {
		got = append(got, r.ID)
	}
	want := []string{high.ID, med.ID, med2.ID, low.ID}
	if !slices.Equal(got, want) {
		t.Errorf("queue = %v, want %v", got, want)
	}

	q, err = svc.Queue(ctx, nurse, 2)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(q) != 2 {
		t.Errorf("limited queue = %d, want 2", len(q))
	}
}

func TestReview(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil)
	ctx := context.Background()
	r, err := svc.SubmitForm(ctx, patientA, FormIntake{Symptoms: []string{"cough"}, Severity: 2})
	if err != nil {
		t.Fatalf("SubmitForm: %v", err)
	}

	if _, err := svc.Review(ctx, patientA, r.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient review: err = %v, want ErrForbidden", err)
	}

	rv, err := svc.Review(ctx, nurse, r.ID)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if rv.Status != StatusReviewed || rv.ReviewedBy == nil || *rv.ReviewedBy != nurse.UserID {
		t.Errorf("reviewed = %+v", rv)
	}

	if _, err := svc.Review(ctx, nurse, r.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("second review: err = %v, want ErrConflict", err)
	}

	q, err := svc.Queue(ctx, nurse, 0)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(q) != 0 {
		t.Errorf("queue = %d, want reviewed result removed", len(q))
	}
}

func TestAcknowledge(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil)
	ctx := context.Background()
	if _, err := svc.SubmitForm(ctx, patientA, FormIntake{Symptoms: []string{"overdose"}, Severity: 4}); err != nil {
		t.Fatalf("SubmitForm: %v", err)
	}

	if _, err := svc.Alerts(ctx, patientA, AlertFilter{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient alerts: err = %v, want ErrForbidden", err)
	}

	alerts, err := svc.Alerts(ctx, nurse, AlertFilter{OnlyOpen: true})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("Alerts = %d, %v", len(alerts), err)
	}

	a, err := svc.Acknowledge(ctx, nurse, alerts[0].ID)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if a.Open() || a.AcknowledgedBy == nil {
		t.Error("expected alert closed with acknowledger")
	}
	if _, err := svc.Acknowledge(ctx, nurse, a.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("second ack: err = %v, want ErrConflict", err)
	}
	if _, err := svc.Acknowledge(ctx, nurse, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}

	open, err := svc.Alerts(ctx, nurse, AlertFilter{OnlyOpen: true})
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open alerts = %d, want 0", len(open))
	}
}

func TestAnalytics_StaffOnly(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil)
	ctx := context.Background()
	if _, err := svc.SubmitForm(ctx, patientA, FormIntake{Symptoms: []string{"fainted"}, Severity: 2}); err != nil {
		t.Fatalf("SubmitForm: %v", err)
	}

	if _, err := svc.Analytics(ctx, patientA, time.Time{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient: err = %v, want ErrForbidden", err)
	}
	a, err := svc.Analytics(ctx, nurse, time.Time{})
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if a.Total != 1 || a.ByUrgency[UrgencyHigh] != 1 || a.OpenAlerts != 1 {
		t.Errorf("analytics = %+v", a)
	}
}

func TestPublisherErrorDoesNotFailSubmit(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, &mockPublisher{err: errors.New("hub closed")})
	if _, err := svc.SubmitForm(context.Background(), patientA, FormIntake{Symptoms: []string{"cough"}, Severity: 2}); err != nil {
		t.Fatalf("SubmitForm: %v", err)
	}
}

func TestPublish_StripsConversation(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	svc := newTestService(newMockStore(), nil, pub)
	ctx := context.Background()

	r, err := svc.Open(ctx, patientA, uuid.Nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := svc.RecordTurn(ctx, patientA, r.ID, Turn{Role: RolePatient, Content: "headache"}); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	if _, err := svc.Complete(ctx, patientA, r.ID, UrgencyLow, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	last := pub.events[len(pub.events)-1]
	if last.Result == nil || last.Result.Conversation != nil {
		t.Error("expected result event without transcript")
	}
}
