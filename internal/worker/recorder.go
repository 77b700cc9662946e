package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/events"
	"github.com/digitalcoach/coach-orchestrator/internal/repository"
)

const consumeBackoff = 2 * time.Second

// Recorder consumes bus events and persists job transitions.
type Recorder struct {
	consumer events.Consumer
	repo     repository.JobsRepository
	logger   *log.Logger
	backoff  time.Duration
}

func NewRecorder(consumer events.Consumer, repo repository.JobsRepository, logger *log.Logger) *Recorder {
	return &Recorder{
		consumer: consumer,
		repo:     repo,
		logger:   logger,
		backoff:  consumeBackoff,
	}
}

// Start blocks until ctx is cancelled, restarting the consumer after errors.
func (r *Recorder) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := r.consumer.Consume(ctx, r.handle)
		if err == nil || ctx.Err() != nil {
			return
		}
		if r.logger != nil {
			r.logger.Printf("recorder consume loop error: %v", err)
		}

		timer := time.NewTimer(r.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Recorder) handle(ctx context.Context, event domain.Event) error {
	switch event.Kind {
	case domain.EventKindJob:
		if event.Job == nil || event.Job.ID == "" {
			return nil
		}
		if err := r.repo.SaveJob(ctx, *event.Job); err != nil {
			return fmt.Errorf("record job %s: %w", event.Job.ID, err)
		}
		if r.logger != nil && event.Job.State.IsTerminal() {
			r.logger.Printf("job recorded job_id=%s user_id=%s state=%s", event.Job.ID, event.UserID, event.Job.State)
		}
	case domain.EventKindSession:
		if r.logger != nil && event.Session != nil && event.Session.State == domain.SessionStateEnded {
			r.logger.Printf("session closed session_id=%s user_id=%s", event.Session.ID, event.UserID)
		}
	}
	return nil
}
