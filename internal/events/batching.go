package events

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

var (
	ErrBusBackpressure = errors.New("event bus backpressure: publish buffer is full")
	ErrBatchingClosed  = errors.New("batching publisher is closed")
)

type BatchingConfig struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	QueueCapacity int
}

type publishRequest struct {
	ctx    context.Context
	event  domain.Event
	result chan error
}

// BatchingPublisher groups close-in-time publishes into one backend write and
// rejects new events once its buffer is full.
type BatchingPublisher struct {
	base        Publisher
	batchWriter batchPublisher

	in         chan publishRequest
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	config     BatchingConfig
	parentDone <-chan struct{}
}

func NewBatchingPublisher(parent context.Context, base Publisher, cfg BatchingConfig) *BatchingPublisher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}

	batcher := &BatchingPublisher{
		base:       base,
		in:         make(chan publishRequest, cfg.QueueCapacity),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		config:     cfg,
		parentDone: parent.Done(),
	}
	if writer, ok := base.(batchPublisher); ok {
		batcher.batchWriter = writer
	}

	go batcher.run()
	return batcher
}

// Publish blocks until the batch holding event has been written.
func (b *BatchingPublisher) Publish(ctx context.Context, event domain.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}

	request := publishRequest{
		ctx:    ctx,
		event:  event,
		result: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	case b.in <- request:
	default:
		return ErrBusBackpressure
	}

	select {
	case err := <-request.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BatchingPublisher) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
}

func (b *BatchingPublisher) run() {
	defer close(b.done)

	pending := make([]publishRequest, 0, b.config.MaxBatchSize)
	timer := time.NewTimer(b.config.FlushInterval)
	stopTimer(timer)
	timerRunning := false

	flush := func(final bool) {
		if len(pending) == 0 {
			return
		}
		batch := append([]publishRequest(nil), pending...)
		pending = pending[:0]
		b.flushBatch(batch, final)
	}

	for {
		var timerCh <-chan time.Time
		if timerRunning {
			timerCh = timer.C
		}

		select {
		case <-b.parentDone:
			stopTimer(timer)
			flush(true)
			return
		case <-b.stop:
			stopTimer(timer)
			flush(true)
			return
		case <-timerCh:
			timerRunning = false
			flush(false)
		case request := <-b.in:
			if request.ctx.Err() != nil {
				request.result <- request.ctx.Err()
				continue
			}
			pending = append(pending, request)
			if len(pending) == 1 {
				resetTimer(timer, b.config.FlushInterval)
				timerRunning = true
			}
			if len(pending) >= b.config.MaxBatchSize {
				stopTimer(timer)
				timerRunning = false
				flush(false)
			}
		}
	}
}

func (b *BatchingPublisher) flushBatch(batch []publishRequest, final bool) {
	active := make([]publishRequest, 0, len(batch))
	for _, request := range batch {
		if err := request.ctx.Err(); err != nil {
			request.result <- err
			continue
		}
		active = append(active, request)
	}
	if len(active) == 0 {
		return
	}

	// Per-user order is kept; only users are grouped together.
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].event.UserID < active[j].event.UserID
	})

	events := make([]domain.Event, 0, len(active))
	for _, request := range active {
		events = append(events, request.event)
	}

	flushCtx := context.Background()
	if !final {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.Background(), b.config.FlushTimeout)
		defer cancel()
	}

	var publishErr error
	if b.batchWriter != nil {
		publishErr = b.batchWriter.PublishBatch(flushCtx, events)
	} else {
		for _, event := range events {
			if err := b.base.Publish(flushCtx, event); err != nil {
				publishErr = err
				break
			}
		}
	}

	for _, request := range active {
		request.result <- publishErr
	}
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func resetTimer(timer *time.Timer, value time.Duration) {
	if timer == nil {
		return
	}
	stopTimer(timer)
	timer.Reset(value)
}
