package handlers

import (
	"net/http"
	"time"
)

// Health reports liveness plus which optional surfaces this instance serves.
func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"transcripts": api.events != nil,
		"media":       api.media != nil,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}
