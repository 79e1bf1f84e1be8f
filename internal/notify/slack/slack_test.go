package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"

	"github.com/Mirudhula24/smart-triage/internal/triage"
)

func testAlert() *triage.Alert {
	return &triage.Alert{
		ID:        "01JN123",
		TriageID:  "01JN100",
		PatientID: uuid.MustParse("5f0c1e0a-3b57-4c39-9d1c-1f7f1b6f0a11"),
		Urgency:   triage.UrgencyHigh,
		Message:   "High urgency form intake: chest pain",
		CreatedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, message, divider, context
	if len(blocks) != 6 {
		t.Errorf("blocks count = %d, want 6", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "high urgency") {
		t.Errorf("header text = %q, want to contain urgency", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Errorf("header should contain red circle for high urgency")
	}

	fields := blocks[2].(map[string]any)["fields"].([]any)
	var joined []string
	for _, f := range fields {
		joined = append(joined, f.(map[string]any)["text"].(string))
	}
	all := strings.Join(joined, "\n")
	for _, want := range []string{"01JN100", "5f0c1e0a-3b57-4c39-9d1c-1f7f1b6f0a11", "2026-02-26 14:23 UTC"} {
		if !strings.Contains(all, want) {
			t.Errorf("fields %q missing %q", all, want)
		}
	}

	msg := blocks[3].(map[string]any)["text"].(map[string]any)["text"].(string)
	if msg != "High urgency form intake: chest pain" {
		t.Errorf("message = %q", msg)
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", nil)
	if err := n.Send(context.Background(), &triage.Alert{}); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_TruncatesLongMessage(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	al := testAlert()
	al.Message = strings.Repeat("x", 4000)

	n := New(srv.URL, log.Nop())
	if err := n.Send(context.Background(), al); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	text := blocks[3].(map[string]any)["text"].(map[string]any)["text"].(string)
	if len(text) != maxMessageLen {
		t.Errorf("message length = %d, want %d", len(text), maxMessageLen)
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated message to end with ...")
	}
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.Send(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestSend_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := New(srv.URL, nil).Send(ctx, testAlert()); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestUrgencyEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		urgency triage.Urgency
		want    string
	}{
		{triage.UrgencyHigh, "\U0001f534"},
		{triage.UrgencyMedium, "\U0001f7e1"},
		{triage.UrgencyLow, "\U0001f7e2"},
		{"", "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.urgency), func(t *testing.T) {
			t.Parallel()
			if got := urgencyEmoji(tt.urgency); got != tt.want {
				t.Errorf("urgencyEmoji(%q) = %q, want %q", tt.urgency, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("High urgency form intake: chest pain", "high", "01JN1")
	f.Add("", "", "")
	f.Add("<@U123> mention", "medium", "*bold* _italic_ ~strike~")
	f.Add("alert\x00\x01\x02", "sev\nline", "id\ttab")
	f.Add(strings.Repeat("A", 5000), "high", strings.Repeat("x", 100))

	f.Fuzz(func(t *testing.T, message, urgency, id string) {
		al := &triage.Alert{
			ID:        id,
			TriageID:  id,
			Urgency:   triage.Urgency(urgency),
			Message:   message,
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		// Must not panic
		msg := buildMessage(al)

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 6 {
			t.Fatalf("blocks count = %d, want 6", len(blocks))
		}
	})
}
