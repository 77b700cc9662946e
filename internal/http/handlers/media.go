package handlers

import (
	"errors"
	"net/http"
	"os"
	"strings"
)

// Media serves uploaded recordings so the analysis API can download them.
func (api *API) Media(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if api.media == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "media not found")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/media/")
	filePath, err := api.media.Resolve(name)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "not_found", "media not found")
		return
	}
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, r, http.StatusNotFound, "not_found", "media not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to read media")
		return
	}
	http.ServeFile(w, r, filePath)
}
