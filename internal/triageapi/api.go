// Package triageapi serves the dashboard's HTTP/JSON API.
package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/Mirudhula24/smart-triage/internal/access"
	"github.com/Mirudhula24/smart-triage/internal/authmw"
	"github.com/Mirudhula24/smart-triage/internal/chat"
	"github.com/Mirudhula24/smart-triage/internal/profile"
	"github.com/Mirudhula24/smart-triage/internal/summary"
	"github.com/Mirudhula24/smart-triage/internal/triage"
)

const maxBodyBytes = 1 << 20

// TriageService defines the triage operations the API exposes.
type TriageService interface {
	SubmitForm(ctx context.Context, p access.Principal, in triage.FormIntake) (*triage.Result, error)
	Get(ctx context.Context, p access.Principal, id string) (*triage.Result, error)
	List(ctx context.Context, p access.Principal, f triage.ResultFilter) ([]*triage.Result, error)
	Queue(ctx context.Context, p access.Principal, limit int) ([]*triage.Result, error)
	Review(ctx context.Context, p access.Principal, id string) (*triage.Result, error)
	Alerts(ctx context.Context, p access.Principal, f triage.AlertFilter) ([]*triage.Alert, error)
	Acknowledge(ctx context.Context, p access.Principal, id string) (*triage.Alert, error)
	Analytics(ctx context.Context, p access.Principal, since time.Time) (*triage.Analytics, error)
}

// ChatService runs chat intakes.
type ChatService interface {
	Start(ctx context.Context, p access.Principal, patientID uuid.UUID) (*chat.Reply, error)
	Send(ctx context.Context, p access.Principal, id, text string) (*chat.Reply, error)
}

// ProfileService manages profiles.
type ProfileService interface {
	Get(ctx context.Context, p access.Principal, id uuid.UUID) (*profile.Profile, error)
	List(ctx context.Context, p access.Principal) ([]*profile.Profile, error)
	Update(ctx context.Context, p access.Principal, id uuid.UUID, u profile.Update) (*profile.Profile, error)
	SetRole(ctx context.Context, p access.Principal, id uuid.UUID, role access.Role) (*profile.Profile, error)
}

// SummaryService builds case summaries.
type SummaryService interface {
	Build(ctx context.Context, p access.Principal, patientID uuid.UUID) (*summary.CaseSummary, error)
}

// Services bundles the API's dependencies. WebSocket is optional.
type Services struct {
	Triage    TriageService
	Chat      ChatService
	Profiles  ProfileService
	Summaries SummaryService
	WebSocket http.Handler
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	triage    TriageService
	chat      ChatService
	profiles  ProfileService
	summaries SummaryService
	ws        http.Handler
	now       func() time.Time
}

// New creates a new API handler.
func New(logger log.Logger, s Services) *API {
	if logger == nil {
		logger = log.Nop()
	}
	switch {
	case s.Triage == nil:
		panic(xerrors.New("triage service is required"))
	case s.Chat == nil:
		panic(xerrors.New("chat service is required"))
	case s.Profiles == nil:
		panic(xerrors.New("profile service is required"))
	case s.Summaries == nil:
		panic(xerrors.New("summary service is required"))
	}
	return &API{
		logger:    logger,
		triage:    s.Triage,
		chat:      s.Chat,
		profiles:  s.Profiles,
		summaries: s.Summaries,
		ws:        s.WebSocket,
		now:       time.Now,
	}
}

// WebSocketPath is where the real-time feed is served.
const WebSocketPath = "/api/v1/ws"

// RegisterWebSocket mounts the feed handler behind auth. The upgrade hijacks
// the connection, so r must not carry middleware that wraps the writer.
func (a *API) RegisterWebSocket(r chi.Router, auth ...func(http.Handler) http.Handler) {
	if a.ws == nil {
		return
	}
	r.With(auth...).Method(http.MethodGet, WebSocketPath, a.ws)
}

// RegisterRoutes attaches API endpoints to the router. auth runs before
// every route and must leave an access.Principal on the request context.
func (a *API) RegisterRoutes(r chi.Router, auth ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth...)

		r.Get("/me", a.handleGetMe)
		r.Patch("/me", a.handleUpdateMe)

		r.Post("/intake/form", a.handleSubmitForm)
		r.Post("/chat", a.handleStartChat)
		r.Post("/chat/{id}/messages", a.handleSendMessage)

		r.Get("/triage", a.handleListTriage)
		r.Get("/triage/{id}", a.handleGetTriage)
		r.Get("/patients/{id}/summary", a.handleSummary)

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireRole(access.RoleStaff))

			r.Get("/profiles", a.handleListProfiles)
			r.Post("/triage/{id}/review", a.handleReview)
			r.Get("/queue", a.handleQueue)
			r.Get("/alerts", a.handleListAlerts)
			r.Post("/alerts/{id}/ack", a.handleAcknowledge)
			r.Get("/analytics", a.handleAnalytics)
		})

		r.With(authmw.RequireRole(access.RoleAdmin)).Put("/profiles/{id}/role", a.handleSetRole)
	})
}

func principal(r *http.Request) access.Principal {
	p, _ := access.FromContext(r.Context())
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// fail maps domain errors to responses. Rows hidden by the access policy
// surface as 404 so their existence is not revealed.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *triage.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid input", Fields: verr.Fields})
	case errors.Is(err, triage.ErrInvalidInput), errors.Is(err, profile.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, triage.ErrNotFound), errors.Is(err, profile.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, triage.ErrForbidden), errors.Is(err, profile.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, triage.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into v. An empty body is allowed when
// optional is set.
func decode(r *http.Request, w http.ResponseWriter, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(w http.ResponseWriter, r *http.Request, name string, def, lo, hi int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		writeError(w, http.StatusBadRequest, name+" must be between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return n, true
}
