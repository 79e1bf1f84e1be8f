package triageapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Mirudhula24/smart-triage/internal/triage"
)

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 100, 1, 500)
	if !ok {
		return
	}
	f := triage.AlertFilter{
		OnlyOpen: r.URL.Query().Get("open") == "true",
		Limit:    limit,
	}
	alerts, err := a.triage.Alerts(r.Context(), principal(r), f)
	if err != nil {
		a.fail(w, r, err, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	al, err := a.triage.Acknowledge(r.Context(), principal(r), id)
	if err != nil {
		a.fail(w, r, err, "failed to acknowledge alert")
		return
	}
	writeJSON(w, http.StatusOK, al)
}

// handleAnalytics reports on the last `days` UTC calendar days, today
// included.
func (a *API) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 30, 1, 365)
	if !ok {
		return
	}
	since := a.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))

	report, err := a.triage.Analytics(r.Context(), principal(r), since)
	if err != nil {
		a.fail(w, r, err, "failed to compute analytics")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
