package httpserver

import (
	"log"
	"net/http"

	"github.com/digitalcoach/coach-orchestrator/internal/http/handlers"
	"github.com/digitalcoach/coach-orchestrator/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	// Stop ends background work owned by the middleware chain.
	Stop <-chan struct{}
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/media/", deps.API.Media)

	mux.HandleFunc("/v1/analyses", deps.API.Analyses)
	mux.HandleFunc("/v1/analyses/upload", deps.API.UploadAnalysis)
	mux.HandleFunc("/v1/analyses/", deps.API.AnalysisByID)
	mux.HandleFunc("/v1/dashboard", deps.API.Dashboard)

	mux.HandleFunc("/v1/sessions", deps.API.Sessions)
	mux.HandleFunc("/v1/sessions/interrupt", deps.API.InterruptSession)
	mux.HandleFunc("/v1/sessions/listening", deps.API.Listening)
	mux.HandleFunc("/v1/sessions/transcript", deps.API.Transcript)

	handler := http.Handler(mux)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst, deps.Stop)(handler)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
