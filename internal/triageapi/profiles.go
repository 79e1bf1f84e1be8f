package triageapi

import (
	"net/http"

	"github.com/Mirudhula24/smart-triage/internal/access"
	"github.com/Mirudhula24/smart-triage/internal/profile"
)

func (a *API) handleGetMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	prof, err := a.profiles.Get(r.Context(), p, p.UserID)
	if err != nil {
		a.fail(w, r, err, "failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (a *API) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var u profile.Update
	if !decode(r, w, &u, false) {
		return
	}
	p := principal(r)
	prof, err := a.profiles.Update(r.Context(), p, p.UserID, u)
	if err != nil {
		a.fail(w, r, err, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (a *API) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := a.profiles.List(r.Context(), principal(r))
	if err != nil {
		a.fail(w, r, err, "failed to list profiles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

type setRoleRequest struct {
	Role access.Role `json:"role"`
}

func (a *API) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req setRoleRequest
	if !decode(r, w, &req, false) {
		return
	}
	prof, err := a.profiles.SetRole(r.Context(), principal(r), id, req.Role)
	if err != nil {
		a.fail(w, r, err, "failed to set role")
		return
	}
	a.logger.Info(r.Context(), "role changed", "profile_id", id.String(), "role", string(prof.Role))
	writeJSON(w, http.StatusOK, prof)
}
