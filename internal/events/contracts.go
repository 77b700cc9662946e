package events

import (
	"context"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

// Publisher sends orchestrator events to a bus backend.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Consumer receives bus events and runs a handler for each one.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.Event) error) error
}

type batchPublisher interface {
	PublishBatch(ctx context.Context, events []domain.Event) error
}
