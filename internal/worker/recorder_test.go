package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/events"
	"github.com/digitalcoach/coach-orchestrator/internal/repository"
)

func TestRecorderPersistsJobEvents(t *testing.T) {
	bus := events.NewLocalBus(16, 3, nil)
	repo := repository.NewMemoryJobsRepository()
	recorder := NewRecorder(bus, repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		recorder.Start(ctx)
		close(done)
	}()

	now := time.Now().UTC()
	publishAll := func() {
		for _, state := range []domain.JobState{domain.JobStateSubmitted, domain.JobStatePolling, domain.JobStateCompleted} {
			_ = bus.Publish(context.Background(), domain.Event{
				Kind:   domain.EventKindJob,
				UserID: "u1",
				Job:    &domain.Job{ID: "j1", UserID: "u1", State: state, SubmittedAt: now},
				At:     now,
			})
		}
		_ = bus.Publish(context.Background(), domain.Event{Kind: domain.EventKindTranscript, UserID: "u1"})
	}

	// Events published before the consumer attaches are not queued, so keep
	// publishing until the recorder has caught up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		publishAll()
		job, err := repo.GetJob(context.Background(), "j1")
		if err == nil && job.State == domain.JobStateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected completed job to be recorded, got %+v err=%v", job, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected recorder to stop after cancel")
	}
}

type flakyConsumer struct {
	mu    sync.Mutex
	calls int
}

func (c *flakyConsumer) Consume(ctx context.Context, _ func(context.Context, domain.Event) error) error {
	c.mu.Lock()
	c.calls++
	calls := c.calls
	c.mu.Unlock()
	if calls == 1 {
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *flakyConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRecorderRestartsConsumerAfterError(t *testing.T) {
	consumer := &flakyConsumer{}
	recorder := NewRecorder(consumer, repository.NewMemoryJobsRepository(), nil)
	recorder.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recorder.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for consumer.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected consumer to be restarted, got %d calls", consumer.count())
		}
		time.Sleep(time.Millisecond)
	}
}
