package triageapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mirudhula24/smart-triage/internal/triage"
)

func (a *API) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	var in triage.FormIntake
	if !decode(r, w, &in, false) {
		return
	}

	result, err := a.triage.SubmitForm(r.Context(), principal(r), in)
	if err != nil {
		a.fail(w, r, err, "failed to submit form intake")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("triage.id", result.ID),
		attribute.String("triage.urgency", string(result.Urgency)),
	)
	writeJSON(w, http.StatusCreated, result)
}

type startChatRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

func (a *API) handleStartChat(w http.ResponseWriter, r *http.Request) {
	var req startChatRequest
	if !decode(r, w, &req, true) {
		return
	}

	reply, err := a.chat.Start(r.Context(), principal(r), req.PatientID)
	if err != nil {
		a.fail(w, r, err, "failed to start chat")
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req sendMessageRequest
	if !decode(r, w, &req, false) {
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("triage.id", id))

	reply, err := a.chat.Send(r.Context(), principal(r), id, req.Message)
	if err != nil {
		a.fail(w, r, err, "failed to send chat message")
		return
	}

	span.SetAttributes(attribute.Bool("triage.chat.complete", reply.Complete))
	writeJSON(w, http.StatusOK, reply)
}
