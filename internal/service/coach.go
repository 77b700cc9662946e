package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/orchestrator"
	"github.com/digitalcoach/coach-orchestrator/internal/repository"
	"github.com/digitalcoach/coach-orchestrator/internal/resilience"
)

var (
	ErrMissingUser      = errors.New("user id is required")
	ErrNoActiveAnalysis = errors.New("no analysis is being polled")
	ErrCoachClosed      = errors.New("coach is shutting down")
)

type CoachDependencies struct {
	Analysis  orchestrator.AnalysisAPI
	Storage   orchestrator.Storage
	Tokens    orchestrator.TokenService
	Live      orchestrator.LiveSessionAPI
	Publisher orchestrator.Publisher
	Repo      repository.JobsRepository
	// NewResponder builds the interviewer for one user. Nil disables replies.
	NewResponder func(userID string) orchestrator.Responder
	Logger       *log.Logger
}

type CoachConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	UploadRetry  resilience.RetryConfig
	Session      domain.SessionConfig
}

type userEntry struct {
	orch *orchestrator.Orchestrator
	task *orchestrator.PollTask
}

// Coach keeps one orchestrator per user and persists the jobs they produce.
type Coach struct {
	deps CoachDependencies
	cfg  CoachConfig

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu     sync.Mutex
	users  map[string]*userEntry
	closed bool
}

func NewCoach(deps CoachDependencies, cfg CoachConfig) *Coach {
	if deps.Repo == nil {
		deps.Repo = repository.NewMemoryJobsRepository()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coach{
		deps:   deps,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		users:  make(map[string]*userEntry),
	}
}

// SubmitAnalysis sends mediaURL for analysis and polls it in the background.
func (c *Coach) SubmitAnalysis(ctx context.Context, userID, mediaURL string) (domain.Job, error) {
	entry, err := c.entryFor(userID)
	if err != nil {
		return domain.Job{}, err
	}
	job, err := entry.orch.Submit(ctx, mediaURL)
	if err != nil {
		return domain.Job{}, err
	}
	return c.track(ctx, entry, job), nil
}

// UploadAndAnalyze stores the recording, submits its download URL and polls
// the job in the background.
func (c *Coach) UploadAndAnalyze(ctx context.Context, userID string, file domain.MediaFile) (domain.Job, error) {
	entry, err := c.entryFor(userID)
	if err != nil {
		return domain.Job{}, err
	}
	job, err := entry.orch.SubmitFile(ctx, file)
	if err != nil {
		return domain.Job{}, err
	}
	return c.track(ctx, entry, job), nil
}

func (c *Coach) track(ctx context.Context, entry *userEntry, job domain.Job) domain.Job {
	c.save(ctx, job)
	if job.State.IsTerminal() {
		return job
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return job
	}
	c.tasks.Add(1)
	task := entry.orch.StartPolling(c.ctx, job)
	entry.task = task
	c.mu.Unlock()

	go func() {
		defer c.tasks.Done()
		final, err := task.Wait()
		c.save(context.Background(), final)
		if err != nil && c.deps.Logger != nil {
			c.deps.Logger.Printf("analysis polling stopped job_id=%s user_id=%s err=%v", final.ID, final.UserID, err)
		}

		c.mu.Lock()
		if entry.task == task {
			entry.task = nil
		}
		c.mu.Unlock()
	}()
	return job
}

// CancelAnalysis stops polling the user's current job. The job keeps its last
// recorded state.
func (c *Coach) CancelAnalysis(userID string) error {
	c.mu.Lock()
	entry, ok := c.users[userID]
	var task *orchestrator.PollTask
	if ok {
		task = entry.task
	}
	c.mu.Unlock()

	if task == nil {
		return ErrNoActiveAnalysis
	}
	task.Cancel()
	<-task.Done()
	return nil
}

// GetAnalysis returns a job owned by userID, preferring the live copy held by
// the user's orchestrator.
func (c *Coach) GetAnalysis(ctx context.Context, userID, jobID string) (domain.Job, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Job{}, ErrMissingUser
	}

	c.mu.Lock()
	entry, ok := c.users[userID]
	c.mu.Unlock()
	if ok {
		if current, found := entry.orch.CurrentJob(); found && current.ID == jobID {
			return current, nil
		}
	}

	job, err := c.deps.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.UserID != userID {
		return domain.Job{}, repository.ErrNotFound
	}
	return job, nil
}

func (c *Coach) ListAnalyses(ctx context.Context, userID string, page, pageSize int) ([]domain.Job, int, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, 0, ErrMissingUser
	}
	return c.deps.Repo.ListJobs(ctx, domain.JobListFilter{UserID: userID, Page: page, PageSize: pageSize})
}

// AverageScore reports how many analyses completed for the user and their
// mean aggregate score.
func (c *Coach) AverageScore(ctx context.Context, userID string) (domain.UserStats, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserStats{}, ErrMissingUser
	}
	return c.deps.Repo.UserStats(ctx, userID)
}

func (c *Coach) StartSession(ctx context.Context, userID string) (domain.SessionSnapshot, error) {
	entry, err := c.entryFor(userID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	if err := entry.orch.StartSession(ctx); err != nil {
		return entry.orch.Session(), err
	}
	return entry.orch.Session(), nil
}

func (c *Coach) Interrupt(ctx context.Context, userID string) error {
	entry, ok := c.existing(userID)
	if !ok {
		return orchestrator.ErrSessionNotActive
	}
	return entry.orch.Interrupt(ctx)
}

func (c *Coach) StartListening(ctx context.Context, userID string) error {
	entry, ok := c.existing(userID)
	if !ok {
		return orchestrator.ErrSessionNotActive
	}
	return entry.orch.StartListening(ctx)
}

func (c *Coach) StopListening(ctx context.Context, userID string) error {
	entry, ok := c.existing(userID)
	if !ok {
		return orchestrator.ErrSessionNotActive
	}
	return entry.orch.StopListening(ctx)
}

func (c *Coach) EndSession(ctx context.Context, userID string) (domain.SessionSnapshot, error) {
	entry, err := c.entryFor(userID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	if err := entry.orch.EndSession(ctx); err != nil {
		return entry.orch.Session(), err
	}
	return entry.orch.Session(), nil
}

func (c *Coach) Session(userID string) domain.SessionSnapshot {
	entry, ok := c.existing(userID)
	if !ok {
		return domain.SessionSnapshot{State: domain.SessionStateIdle}
	}
	return entry.orch.Session()
}

// Close ends every open session, cancels every poll task and waits for the
// final job states to be saved.
func (c *Coach) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := make([]*userEntry, 0, len(c.users))
	for _, entry := range c.users {
		entries = append(entries, entry)
	}
	c.mu.Unlock()

	for _, entry := range entries {
		if entry.orch.Session().ID == "" {
			continue
		}
		if err := entry.orch.EndSession(ctx); err != nil && c.deps.Logger != nil {
			c.deps.Logger.Printf("end session on close user_id=%s err=%v", entry.orch.UserID(), err)
		}
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for poll tasks: %w", ctx.Err())
	}
}

func (c *Coach) entryFor(userID string) (*userEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCoachClosed
	}
	if entry, ok := c.users[userID]; ok {
		return entry, nil
	}

	deps := orchestrator.Deps{
		Analysis:  c.deps.Analysis,
		Storage:   c.deps.Storage,
		Tokens:    c.deps.Tokens,
		Live:      c.deps.Live,
		Publisher: c.deps.Publisher,
	}
	if c.deps.NewResponder != nil {
		deps.Responder = c.deps.NewResponder(userID)
	}
	entry := &userEntry{
		orch: orchestrator.New(deps, orchestrator.Config{
			UserID:       userID,
			PollInterval: c.cfg.PollInterval,
			MaxAttempts:  c.cfg.MaxAttempts,
			UploadRetry:  c.cfg.UploadRetry,
			Session:      c.cfg.Session,
			Logger:       c.deps.Logger,
		}),
	}
	c.users[userID] = entry
	return entry, nil
}

func (c *Coach) existing(userID string) (*userEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.users[strings.TrimSpace(userID)]
	return entry, ok
}

func (c *Coach) save(ctx context.Context, job domain.Job) {
	if job.ID == "" {
		return
	}
	if err := c.deps.Repo.SaveJob(context.WithoutCancel(ctx), job); err != nil && c.deps.Logger != nil {
		c.deps.Logger.Printf("persist analysis failed job_id=%s err=%v", job.ID, err)
	}
}
