package triageapi

import "net/http"

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	s, err := a.summaries.Build(r.Context(), principal(r), id)
	if err != nil {
		a.fail(w, r, err, "failed to build case summary")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
