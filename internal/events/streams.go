package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/redis/go-redis/v9"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
	// MaxLen caps the stream length with approximate trimming. Zero disables it.
	MaxLen int64
}

// StreamsBus implements Publisher and Consumer backed by Redis Streams.
type StreamsBus struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	maxLen      int64
}

func NewStreamsBus(ctx context.Context, cfg StreamsConfig) (*StreamsBus, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "coach_events"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "coach_events_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "coach_recorders"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	bus := &StreamsBus{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		maxLen:      cfg.MaxLen,
	}
	if err := bus.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return bus, nil
}

func (b *StreamsBus) Close() error {
	return b.client.Close()
}

func (b *StreamsBus) Publish(ctx context.Context, event domain.Event) error {
	args, err := b.addArgs(event, 0)
	if err != nil {
		return err
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish to stream: %w", err)
	}
	return nil
}

func (b *StreamsBus) PublishBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	pipeline := b.client.Pipeline()
	for _, event := range events {
		args, err := b.addArgs(event, 0)
		if err != nil {
			return err
		}
		pipeline.XAdd(ctx, args)
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("publish batch to stream: %w", err)
	}
	return nil
}

func (b *StreamsBus) Consume(ctx context.Context, handler func(context.Context, domain.Event) error) error {
	if err := b.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.consumer,
			Streams:  []string{b.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				b.deliver(ctx, item, handler)
			}
		}
	}
}

func (b *StreamsBus) deliver(ctx context.Context, item redis.XMessage, handler func(context.Context, domain.Event) error) {
	event, attempt, parseErr := parseStreamMessage(item)
	if parseErr != nil {
		_ = b.sendToDLQ(ctx, item, attempt, parseErr.Error())
		_ = b.ackAndDelete(ctx, item.ID)
		return
	}

	handleErr := handler(ctx, event)
	if handleErr == nil {
		_ = b.ackAndDelete(ctx, item.ID)
		return
	}

	attempt++
	if attempt >= b.maxAttempts {
		_ = b.sendToDLQ(ctx, item, attempt, handleErr.Error())
		_ = b.ackAndDelete(ctx, item.ID)
		return
	}

	args, err := b.addArgs(event, attempt)
	if err == nil {
		err = b.client.XAdd(ctx, args).Err()
	}
	if err != nil {
		_ = b.sendToDLQ(ctx, item, attempt, fmt.Sprintf("requeue failed: %v", err))
	}
	_ = b.ackAndDelete(ctx, item.ID)
}

func (b *StreamsBus) addArgs(event domain.Event, attempt int) (*redis.XAddArgs, error) {
	values, err := encodeEvent(event, attempt)
	if err != nil {
		return nil, err
	}
	args := &redis.XAddArgs{Stream: b.stream, Values: values}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	return args, nil
}

func (b *StreamsBus) ensureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, b.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (b *StreamsBus) ackAndDelete(ctx context.Context, streamID string) error {
	if err := b.client.XAck(ctx, b.stream, b.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := b.client.XDel(ctx, b.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (b *StreamsBus) sendToDLQ(ctx context.Context, item redis.XMessage, attempt int, errorMessage string) error {
	values := map[string]any{
		"stream_id": item.ID,
		"attempt":   attempt,
		"error":     errorMessage,
		"moved_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, key := range []string{"kind", "user_id", "payload"} {
		if value, ok := item.Values[key]; ok {
			values[key] = value
		}
	}
	if _, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: b.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func encodeEvent(event domain.Event, attempt int) (map[string]any, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return map[string]any{
		"kind":    string(event.Kind),
		"user_id": event.UserID,
		"payload": string(payload),
		"attempt": attempt,
		"at":      event.At.UTC().Format(time.RFC3339Nano),
	}, nil
}

func parseStreamMessage(item redis.XMessage) (domain.Event, int, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	attempt := 0
	if attemptString, err := getString("attempt"); err == nil {
		parsed, convErr := strconv.Atoi(attemptString)
		if convErr != nil {
			return domain.Event{}, 0, fmt.Errorf("invalid attempt: %w", convErr)
		}
		attempt = parsed
	}

	payload, err := getString("payload")
	if err != nil {
		return domain.Event{}, attempt, err
	}
	var event domain.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return domain.Event{}, attempt, fmt.Errorf("invalid payload: %w", err)
	}

	kind, err := getString("kind")
	if err != nil {
		return domain.Event{}, attempt, err
	}
	if kind != string(event.Kind) {
		return domain.Event{}, attempt, fmt.Errorf("kind mismatch: field %q payload %q", kind, event.Kind)
	}
	return event, attempt, nil
}
