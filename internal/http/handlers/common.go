package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/http/middleware"
	"github.com/digitalcoach/coach-orchestrator/internal/orchestrator"
	"github.com/digitalcoach/coach-orchestrator/internal/repository"
	"github.com/digitalcoach/coach-orchestrator/internal/service"
	"github.com/digitalcoach/coach-orchestrator/internal/storage"
)

const defaultMaxUploadBytes = 200 << 20

var errInvalidPayload = errors.New("invalid payload")

// Coach is the service surface the handlers drive.
type Coach interface {
	SubmitAnalysis(ctx context.Context, userID, mediaURL string) (domain.Job, error)
	UploadAndAnalyze(ctx context.Context, userID string, file domain.MediaFile) (domain.Job, error)
	CancelAnalysis(userID string) error
	GetAnalysis(ctx context.Context, userID, jobID string) (domain.Job, error)
	ListAnalyses(ctx context.Context, userID string, page, pageSize int) ([]domain.Job, int, error)
	AverageScore(ctx context.Context, userID string) (domain.UserStats, error)

	StartSession(ctx context.Context, userID string) (domain.SessionSnapshot, error)
	Interrupt(ctx context.Context, userID string) error
	StartListening(ctx context.Context, userID string) error
	StopListening(ctx context.Context, userID string) error
	EndSession(ctx context.Context, userID string) (domain.SessionSnapshot, error)
	Session(userID string) domain.SessionSnapshot
}

// EventSource hands out live event subscriptions.
type EventSource interface {
	Subscribe(buffer int) (<-chan domain.Event, func())
}

// MediaResolver maps a public media name to a file on disk.
type MediaResolver interface {
	Resolve(name string) (string, error)
}

type APIDependencies struct {
	Coach          Coach
	Events         EventSource
	Media          MediaResolver
	MaxUploadBytes int64
	// AllowedOrigins lists the browser origins allowed to open the transcript
	// WebSocket, in the same form as the CORS allow list.
	AllowedOrigins []string
	Logger         *log.Logger
}

type API struct {
	coach          Coach
	events         EventSource
	media          MediaResolver
	maxUploadBytes int64
	originPatterns []string
	logger         *log.Logger
}

func NewAPI(deps APIDependencies) *API {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &API{
		coach:          deps.Coach,
		events:         deps.Events,
		media:          deps.Media,
		maxUploadBytes: deps.MaxUploadBytes,
		originPatterns: originHosts(deps.AllowedOrigins),
		logger:         deps.Logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// writeServiceError maps known failures to client errors; anything else is
// reported with the fallback status.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallbackStatus int, fallbackMessage string) {
	switch {
	case errors.Is(err, service.ErrMissingUser), errors.Is(err, orchestrator.ErrEmptyMediaRef),
		errors.Is(err, storage.ErrEmptyFile), errors.Is(err, storage.ErrInvalidName):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "analysis not found")
	case errors.Is(err, service.ErrNoActiveAnalysis):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, orchestrator.ErrJobInProgress), errors.Is(err, orchestrator.ErrAlreadyPolling):
		writeError(w, r, http.StatusConflict, "job_in_progress", err.Error())
	case errors.Is(err, orchestrator.ErrSessionActive):
		writeError(w, r, http.StatusConflict, "session_active", err.Error())
	case errors.Is(err, orchestrator.ErrSessionNotActive), errors.Is(err, orchestrator.ErrSessionEnded):
		writeError(w, r, http.StatusConflict, "session_not_active", err.Error())
	case errors.Is(err, orchestrator.ErrSessionUnavailable), errors.Is(err, service.ErrCoachClosed):
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		if api.logger != nil {
			api.logger.Printf("request failed request_id=%s path=%s err=%v", middleware.GetRequestID(r.Context()), r.URL.Path, err)
		}
		code := "internal_error"
		if fallbackStatus == http.StatusBadGateway {
			code = "upstream_error"
		}
		writeError(w, r, fallbackStatus, code, fallbackMessage)
	}
}

func jsonRawOrFallback(value []byte) any {
	var decoded any
	if err := json.Unmarshal(value, &decoded); err == nil {
		return decoded
	}
	return string(value)
}
