package events

import (
	"context"
	"errors"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

// Fanout publishes every event to each of its publishers in order. All
// publishers are tried; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mapped rewrites each event before handing it to Next.
type Mapped struct {
	Next Publisher
	Map  func(domain.Event) domain.Event
}

func (m Mapped) Publish(ctx context.Context, event domain.Event) error {
	if m.Map != nil {
		event = m.Map(event)
	}
	return m.Next.Publish(ctx, event)
}
