package triageapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mirudhula24/smart-triage/internal/triage"
)

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("triage.id", id))

	result, err := a.triage.Get(r.Context(), principal(r), id)
	if err != nil {
		a.fail(w, r, err, "failed to get triage result")
		return
	}

	span.SetAttributes(attribute.String("triage.status", string(result.Status)))
	writeJSON(w, http.StatusOK, result)
}

// handleListTriage lists results visible to the caller. Query: status
// (comma list), patient_id, limit.
func (a *API) handleListTriage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f triage.ResultFilter

	limit, ok := intParam(w, r, "limit", 50, 1, 200)
	if !ok {
		return
	}
	f.Limit = limit

	if s := q.Get("patient_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid patient_id")
			return
		}
		f.PatientID = id
	}

	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			st := triage.Status(strings.TrimSpace(part))
			switch st {
			case triage.StatusInProgress, triage.StatusComplete, triage.StatusReviewed:
				f.Statuses = append(f.Statuses, st)
			default:
				writeError(w, http.StatusBadRequest, "invalid status "+string(st))
				return
			}
		}
	}

	results, err := a.triage.List(r.Context(), principal(r), f)
	if err != nil {
		a.fail(w, r, err, "failed to list triage results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 50, 1, 200)
	if !ok {
		return
	}
	results, err := a.triage.Queue(r.Context(), principal(r), limit)
	if err != nil {
		a.fail(w, r, err, "failed to load queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": results})
}

func (a *API) handleReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("triage.id", id))

	result, err := a.triage.Review(r.Context(), principal(r), id)
	if err != nil {
		a.fail(w, r, err, "failed to review triage result")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
