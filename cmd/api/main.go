package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/ai"
	"github.com/digitalcoach/coach-orchestrator/internal/analysis"
	"github.com/digitalcoach/coach-orchestrator/internal/avatar"
	"github.com/digitalcoach/coach-orchestrator/internal/config"
	"github.com/digitalcoach/coach-orchestrator/internal/events"
	httpserver "github.com/digitalcoach/coach-orchestrator/internal/http"
	"github.com/digitalcoach/coach-orchestrator/internal/http/handlers"
	"github.com/digitalcoach/coach-orchestrator/internal/orchestrator"
	"github.com/digitalcoach/coach-orchestrator/internal/policy"
	"github.com/digitalcoach/coach-orchestrator/internal/repository"
	"github.com/digitalcoach/coach-orchestrator/internal/resilience"
	"github.com/digitalcoach/coach-orchestrator/internal/service"
	"github.com/digitalcoach/coach-orchestrator/internal/storage"
	"github.com/digitalcoach/coach-orchestrator/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[coach] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profile, err := config.LoadSessionProfile(cfg.SessionProfilePath)
	if err != nil {
		logger.Fatalf("invalid session profile: %v", err)
	}

	repo, cleanupRepo := setupRepository(ctx, cfg, logger)
	defer cleanupRepo()

	bus, recorderSource, cleanupEvents := setupEvents(ctx, cfg, logger)
	defer cleanupEvents()

	analysisClient := analysis.NewClient(analysis.ClientConfig{
		BaseURL:    cfg.AnalysisBaseURL,
		Timeout:    time.Duration(cfg.AnalysisTimeoutMS) * time.Millisecond,
		MaxRetries: cfg.AnalysisMaxRetries,
		Logger:     logger,
	})
	store := storage.NewLocalStore(cfg.MediaDir, cfg.MediaBaseURL, cfg.MediaBucket)

	deps := service.CoachDependencies{
		Analysis:     analysisClient,
		Storage:      store,
		Publisher:    bus.publisher,
		Repo:         repo,
		NewResponder: setupResponder(cfg, profile, logger),
		Logger:       logger,
	}
	if cfg.AvatarAPIKey != "" {
		deps.Tokens = avatar.NewTokenClient(avatar.TokenClientConfig{
			APIKey:     cfg.AvatarAPIKey,
			BaseURL:    cfg.AvatarAPIBaseURL,
			Timeout:    time.Duration(cfg.AvatarTimeoutMS) * time.Millisecond,
			MaxRetries: 1,
			Logger:     logger,
		})
		deps.Live = avatar.NewStreamClient(avatar.StreamClientConfig{
			URL:         cfg.AvatarStreamURL,
			DialTimeout: time.Duration(cfg.AvatarTimeoutMS) * time.Millisecond,
			Logger:      logger,
		})
	} else {
		logger.Printf("AVATAR_API_KEY not set; live sessions disabled")
	}

	uploadRetry := resilience.DefaultRetryConfig()
	uploadRetry.MaxRetries = cfg.UploadRetries
	coach := service.NewCoach(deps, service.CoachConfig{
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.PollMaxAttempts,
		UploadRetry:  uploadRetry,
		Session:      profile.SessionConfig(),
	})

	if cfg.RecorderEnabled {
		recorder := worker.NewRecorder(recorderSource, repo, logger)
		go recorder.Start(ctx)
	}

	api := handlers.NewAPI(handlers.APIDependencies{
		Coach:          coach,
		Events:         bus.local,
		Media:          store,
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         logger,
	})
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Stop:           ctx.Done(),
	})

	// Read and write timeouts stay unset: the transcript WebSocket holds its
	// connection open after the upgrade.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Printf("server listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := coach.Close(shutdownCtx); err != nil {
		logger.Printf("coach shutdown: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepository(ctx context.Context, cfg config.Config, logger *log.Logger) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not set; using in-memory analyses repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, falling back to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("using postgres analyses repository")
	return pgRepo, pgRepo.Close
}

type eventWiring struct {
	local     *events.LocalBus
	publisher events.Publisher
}

// setupEvents always keeps the in-process bus for WebSocket listeners and adds
// a redacted Redis Streams copy when REDIS_ADDR is set. The returned consumer
// is what the recorder drains.
func setupEvents(ctx context.Context, cfg config.Config, logger *log.Logger) (eventWiring, events.Consumer, func()) {
	local := events.NewLocalBus(512, 3, logger)
	wiring := eventWiring{local: local, publisher: local}

	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not set; using in-process event bus")
		return wiring, local, func() {}
	}

	streams, err := events.NewStreamsBus(ctx, events.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: 3,
		MaxLen:      100000,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams, falling back to in-process bus: %v", err)
		return wiring, local, func() {}
	}

	batching := events.NewBatchingPublisher(ctx, streams, events.BatchingConfig{
		MaxBatchSize:  cfg.EventBatchSize,
		FlushInterval: cfg.EventFlushInterval,
	})
	wiring.publisher = events.Fanout{
		local,
		events.Mapped{Next: batching, Map: policy.RedactEvent},
	}
	logger.Printf("using redis streams event bus stream=%s group=%s", cfg.RedisStream, cfg.RedisGroup)

	return wiring, streams, func() {
		batching.Close()
		if err := streams.Close(); err != nil {
			logger.Printf("redis close failed: %v", err)
		}
	}
}

func setupResponder(cfg config.Config, profile config.SessionProfile, logger *log.Logger) func(string) orchestrator.Responder {
	if cfg.OpenAIAPIKey == "" {
		logger.Printf("OPENAI_API_KEY not set; interviewer replies use the fallback line")
	}
	chat := ai.NewChatClient(ai.ChatClientConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    time.Duration(cfg.OpenAITimeoutMS) * time.Millisecond,
		MaxRetries: cfg.OpenAIMaxRetries,
		Logger:     logger,
	})
	interviewer := profile.Interviewer
	model := interviewer.Model
	if model == "" {
		model = cfg.OpenAIModel
	}
	return func(string) orchestrator.Responder {
		return ai.NewInterviewer(chat, ai.InterviewerConfig{
			SystemPrompt:    interviewer.SystemPrompt,
			Model:           model,
			Temperature:     interviewer.Temperature,
			MaxOutputTokens: interviewer.MaxOutputTokens,
			HistoryLimit:    interviewer.HistoryLimit,
			FallbackReply:   interviewer.FallbackReply,
			Logger:          logger,
		})
	}
}
