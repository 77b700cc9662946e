package handlers

import (
	"net/http"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/http/middleware"
)

// Sessions handles POST (start), GET (snapshot) and DELETE (end) on
// /v1/sessions.
func (api *API) Sessions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	switch r.Method {
	case http.MethodPost:
		snapshot, err := api.coach.StartSession(r.Context(), userID)
		if err != nil {
			api.writeServiceError(w, r, err, http.StatusBadGateway, "failed to start live session")
			return
		}
		writeJSON(w, http.StatusAccepted, sessionResponse(snapshot))
	case http.MethodGet:
		writeJSON(w, http.StatusOK, sessionResponse(api.coach.Session(userID)))
	case http.MethodDelete:
		snapshot, err := api.coach.EndSession(r.Context(), userID)
		if err != nil {
			api.writeServiceError(w, r, err, http.StatusInternalServerError, "failed to end live session")
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse(snapshot))
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) InterruptSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if err := api.coach.Interrupt(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		api.writeServiceError(w, r, err, http.StatusBadGateway, "failed to interrupt avatar")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Listening toggles voice capture: POST starts it, DELETE stops it.
func (api *API) Listening(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var err error
	switch r.Method {
	case http.MethodPost:
		err = api.coach.StartListening(r.Context(), userID)
	case http.MethodDelete:
		err = api.coach.StopListening(r.Context(), userID)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if err != nil {
		api.writeServiceError(w, r, err, http.StatusBadGateway, "failed to toggle listening")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionResponse(snapshot domain.SessionSnapshot) map[string]any {
	response := map[string]any{
		"session_id":   snapshot.ID,
		"state":        snapshot.State,
		"user_talking": snapshot.UserTalking,
	}
	if !snapshot.StartedAt.IsZero() {
		response["started_at"] = snapshot.StartedAt
	}
	if !snapshot.EndedAt.IsZero() {
		response["ended_at"] = snapshot.EndedAt
	}
	if snapshot.LastError != "" {
		response["last_error"] = snapshot.LastError
	}
	return response
}
