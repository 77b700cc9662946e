// Package orchestrator drives remote analysis jobs and live avatar sessions
// for a single user. One Orchestrator owns at most one active job and one
// open session; every mutation goes through its methods.
package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/resilience"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 10
)

type AnalysisAPI interface {
	Create(ctx context.Context, mediaURL string) (string, error)
	Status(ctx context.Context, jobID string) (domain.StatusReport, error)
	FetchResult(ctx context.Context, jobID string) (json.RawMessage, error)
}

type MediaCapture interface {
	GetFile(ctx context.Context) (domain.MediaFile, error)
}

type Storage interface {
	Upload(ctx context.Context, file domain.MediaFile, id string) (domain.UploadHandle, error)
	DownloadURL(ctx context.Context, handle domain.UploadHandle) (string, error)
}

type TokenService interface {
	FetchAccessToken(ctx context.Context) (string, error)
}

type LiveSessionAPI interface {
	Start(ctx context.Context, token string, cfg domain.SessionConfig, handler domain.SessionEventHandler) (domain.LiveConnection, error)
}

// Responder produces the interviewer's reply to a finished user utterance.
type Responder interface {
	Respond(ctx context.Context, utterance string) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

type Deps struct {
	Analysis  AnalysisAPI
	Storage   Storage
	Tokens    TokenService
	Live      LiveSessionAPI
	Responder Responder
	Publisher Publisher
}

type Config struct {
	UserID       string
	PollInterval time.Duration
	MaxAttempts  int
	UploadRetry  resilience.RetryConfig
	Session      domain.SessionConfig
	Logger       *log.Logger

	OnJob                   func(domain.Job)
	OnSessionState          func(domain.SessionSnapshot)
	OnUserTranscript        func(domain.TranscriptLine)
	OnInterviewerTranscript func(domain.TranscriptLine)

	Now   func() time.Time
	NewID func() string
}

type Orchestrator struct {
	deps Deps
	cfg  Config

	mu sync.Mutex

	job     *domain.Job
	active  bool
	polling bool

	session    *liveSession
	generation uint64
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.UploadRetry.MaxRetries == 0 && cfg.UploadRetry.BaseDelay == 0 {
		cfg.UploadRetry = resilience.DefaultRetryConfig()
	}
	if cfg.UploadRetry.Logger == nil {
		cfg.UploadRetry.Logger = cfg.Logger
	}
	if cfg.UploadRetry.Operation == "" {
		cfg.UploadRetry.Operation = "storage.upload"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

func (o *Orchestrator) UserID() string {
	return o.cfg.UserID
}

// emission is a side effect computed under the lock and performed after it.
type emission func()

func (o *Orchestrator) run(emissions []emission) {
	for _, emit := range emissions {
		emit()
	}
}

func (o *Orchestrator) jobEmission(job domain.Job) emission {
	return func() {
		if o.cfg.OnJob != nil {
			o.cfg.OnJob(job.Clone())
		}
		o.publish(domain.Event{Kind: domain.EventKindJob, Job: &job})
	}
}

func (o *Orchestrator) sessionEmission(snapshot domain.SessionSnapshot) emission {
	return func() {
		if o.cfg.OnSessionState != nil {
			o.cfg.OnSessionState(snapshot)
		}
		o.publish(domain.Event{Kind: domain.EventKindSession, Session: &snapshot})
	}
}

func (o *Orchestrator) transcriptEmission(line domain.TranscriptLine) emission {
	return func() {
		callback := o.cfg.OnInterviewerTranscript
		if line.Speaker == domain.SpeakerUser {
			callback = o.cfg.OnUserTranscript
		}
		if callback != nil {
			callback(line)
		}
		o.publish(domain.Event{Kind: domain.EventKindTranscript, Transcript: &line})
	}
}

func (o *Orchestrator) publish(event domain.Event) {
	if o.deps.Publisher == nil {
		return
	}
	event.UserID = o.cfg.UserID
	event.At = o.cfg.Now().UTC()
	if err := o.deps.Publisher.Publish(context.Background(), event); err != nil {
		o.logf("event publish failed kind=%s user_id=%s err=%v", event.Kind, o.cfg.UserID, err)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.cfg.Logger != nil {
		o.cfg.Logger.Printf(format, args...)
	}
}
