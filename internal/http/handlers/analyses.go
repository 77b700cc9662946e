package handlers

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/http/middleware"
)

type analysisRequest struct {
	MediaURL string `json:"media_url"`
}

// Analyses handles POST (submit a media URL) and GET (list) on /v1/analyses.
func (api *API) Analyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.createAnalysis(w, r)
	case http.MethodGet:
		api.listAnalyses(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) createAnalysis(w http.ResponseWriter, r *http.Request) {
	var request analysisRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	mediaURL := strings.TrimSpace(request.MediaURL)
	if mediaURL == "" || len(mediaURL) > 2048 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "media_url is required")
		return
	}

	job, err := api.coach.SubmitAnalysis(r.Context(), middleware.GetUserID(r.Context()), mediaURL)
	if err != nil {
		api.writeServiceError(w, r, err, http.StatusInternalServerError, "failed to submit analysis")
		return
	}
	writeAccepted(w, job)
}

// UploadAnalysis accepts the recording as the raw request body. The file name
// comes from X-Filename.
func (api *API) UploadAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	name := path.Base(strings.TrimSpace(r.Header.Get("X-Filename")))
	if name == "" || name == "." || name == "/" {
		name = "recording.webm"
	}

	body := http.MaxBytesReader(w, r.Body, api.maxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "recording exceeds the upload limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", "failed to read recording")
		return
	}
	if len(data) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "recording body is empty")
		return
	}

	file := domain.MediaFile{
		Name:        name,
		ContentType: r.Header.Get("Content-Type"),
		Data:        data,
	}
	job, err := api.coach.UploadAndAnalyze(r.Context(), middleware.GetUserID(r.Context()), file)
	if err != nil {
		api.writeServiceError(w, r, err, http.StatusBadGateway, "failed to upload recording")
		return
	}
	writeAccepted(w, job)
}

// AnalysisByID serves GET /v1/analyses/{id} and DELETE /v1/analyses/current.
func (api *API) AnalysisByID(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/analyses/"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "analysis id is required")
		return
	}
	userID := middleware.GetUserID(r.Context())

	switch {
	case r.Method == http.MethodDelete && jobID == "current":
		if err := api.coach.CancelAnalysis(userID); err != nil {
			api.writeServiceError(w, r, err, http.StatusInternalServerError, "failed to cancel analysis")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet:
		job, err := api.coach.GetAnalysis(r.Context(), userID, jobID)
		if err != nil {
			api.writeServiceError(w, r, err, http.StatusInternalServerError, "failed to load analysis")
			return
		}
		writeJSON(w, http.StatusOK, jobResponse(job))
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) listAnalyses(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	jobs, total, err := api.coach.ListAnalyses(r.Context(), middleware.GetUserID(r.Context()), page, pageSize)
	if err != nil {
		api.writeServiceError(w, r, err, http.StatusInternalServerError, "failed to list analyses")
		return
	}

	items := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, jobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

// Dashboard reports the caller's completed-analysis count and average score.
func (api *API) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	stats, err := api.coach.AverageScore(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		api.writeServiceError(w, r, err, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         stats.UserID,
		"completed_count": stats.CompletedCount,
		"average_score":   stats.AverageScore,
	})
}

func writeAccepted(w http.ResponseWriter, job domain.Job) {
	statusCode := http.StatusAccepted
	if job.State == domain.JobStateFailed {
		statusCode = http.StatusBadGateway
	}
	response := jobResponse(job)
	if job.ID != "" {
		response["status_url"] = "/v1/analyses/" + job.ID
		w.Header().Set("Retry-After", "3")
	}
	writeJSON(w, statusCode, response)
}

func jobResponse(job domain.Job) map[string]any {
	response := map[string]any{
		"job_id":       job.ID,
		"state":        job.State,
		"phase":        job.State.Phase(),
		"attempts":     job.Attempts,
		"media_url":    job.MediaURL,
		"submitted_at": job.SubmittedAt,
		"updated_at":   job.UpdatedAt,
	}
	if len(job.Result) > 0 {
		response["result"] = jsonRawOrFallback(job.Result)
	}
	if strings.TrimSpace(job.Error) != "" {
		response["error"] = map[string]any{
			"code":    string(job.State),
			"message": job.Error,
		}
	}
	return response
}
