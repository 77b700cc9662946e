package events

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

// LocalBus is the in-process bus used when Redis is not configured. Every
// published event is copied to live subscribers and, once Consume is running,
// queued for the consumer. Publish never blocks: a full subscriber or queue
// loses the event.
type LocalBus struct {
	ch          chan domain.Event
	maxAttempts int
	logger      *log.Logger
	consuming   atomic.Bool

	mu          sync.Mutex
	subscribers map[int]chan domain.Event
	nextID      int
	dropped     int

	dlqMu sync.Mutex
	dlq   []domain.Event
}

func NewLocalBus(bufferSize, maxAttempts int, logger *log.Logger) *LocalBus {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalBus{
		ch:          make(chan domain.Event, bufferSize),
		maxAttempts: maxAttempts,
		logger:      logger,
		subscribers: make(map[int]chan domain.Event),
	}
}

func (b *LocalBus) Publish(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.fanout(event)
	if !b.consuming.Load() {
		return nil
	}
	select {
	case b.ch <- event:
		return nil
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return ErrBusBackpressure
	}
}

func (b *LocalBus) PublishBatch(ctx context.Context, events []domain.Event) error {
	for _, event := range events {
		if err := b.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a live listener. The returned cancel func closes the
// channel and must be called once the caller stops reading.
func (b *LocalBus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *LocalBus) fanout(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped++
			if b.logger != nil {
				b.logger.Printf("local bus dropped event for slow subscriber kind=%s user_id=%s", event.Kind, event.UserID)
			}
		}
	}
}

func (b *LocalBus) Consume(ctx context.Context, handler func(context.Context, domain.Event) error) error {
	b.consuming.Store(true)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-b.ch:
			b.handle(ctx, event, handler, 0)
		}
	}
}

// handle retries in place; later events wait behind a failing one.
func (b *LocalBus) handle(ctx context.Context, event domain.Event, handler func(context.Context, domain.Event) error, attempt int) {
	err := handler(ctx, event)
	if err == nil {
		return
	}

	attempt++
	if attempt >= b.maxAttempts {
		b.dlqMu.Lock()
		b.dlq = append(b.dlq, event)
		b.dlqMu.Unlock()
		if b.logger != nil {
			b.logger.Printf("local bus moved event to DLQ kind=%s user_id=%s err=%v", event.Kind, event.UserID, err)
		}
		return
	}

	delay := time.Duration(attempt) * 500 * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		b.handle(ctx, event, handler, attempt)
	}
}

func (b *LocalBus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *LocalBus) DLQSize() int {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	return len(b.dlq)
}
