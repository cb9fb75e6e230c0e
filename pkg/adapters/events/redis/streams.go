package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harshakreox/ghostqa/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stream entry fields. type and request_id are duplicated out of the
// payload so entries can be inspected with redis-cli.
const (
	fieldType      = "type"
	fieldRequestID = "request_id"
	fieldPayload   = "event"
)

const (
	readCount    = 32
	readBlock    = time.Second
	errorBackoff = time.Second
)

// ErrBusClosed is returned by Subscribe after Close.
var ErrBusClosed = errors.New("event bus closed")

// StreamsEventBus carries orchestrator events over Redis Streams. Each
// topic is one stream; subscribers read through a consumer group, so
// several orchestrator replicas sharing a group split the deliveries.
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
	maxLen        int64

	mu      sync.Mutex
	closed  bool
	cancels []context.CancelFunc
	readers sync.WaitGroup
}

// NewStreamsEventBus creates a Redis Streams event bus. Streams are
// trimmed to roughly maxLen entries; zero disables trimming.
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, maxLen int64, logger *zap.Logger) (*StreamsEventBus, error) {
	if consumerGroup == "" || consumerName == "" {
		return nil, errors.New("consumer group and consumer name are required")
	}
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		maxLen:        maxLen,
	}, nil
}

// Publish appends event to the topic stream.
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey(topic),
		Values: []interface{}{
			fieldType, string(event.Type),
			fieldRequestID, event.RequestID,
			fieldPayload, string(payload),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if err := e.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Type, topic, err)
	}
	return nil
}

// Subscribe starts a reader that delivers events published after the
// group was created, until ctx ends or the bus is closed. Entries are
// acknowledged once handler returns nil; failed entries stay pending.
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler domain.EventHandler) error {
	key := streamKey(topic)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrBusClosed
	}

	err := e.client.XGroupCreateMkStream(ctx, key, e.consumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group on %s: %w", key, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	e.cancels = append(e.cancels, cancel)
	e.readers.Add(1)
	go func() {
		defer e.readers.Done()
		e.consume(readCtx, key, handler)
	}()

	e.logger.Info("subscribed to event stream",
		zap.String("stream", key),
		zap.String("consumer_group", e.consumerGroup),
		zap.String("consumer", e.consumerName))
	return nil
}

func (e *StreamsEventBus) consume(ctx context.Context, key string, handler domain.EventHandler) {
	for ctx.Err() == nil {
		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.consumerGroup,
			Consumer: e.consumerName,
			Streams:  []string{key, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			e.logger.Error("event stream read failed", zap.String("stream", key), zap.Error(err))
			sleepCtx(ctx, errorBackoff)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				e.deliver(ctx, key, msg, handler)
			}
		}
	}
}

func (e *StreamsEventBus) deliver(ctx context.Context, key string, msg redis.XMessage, handler domain.EventHandler) {
	event, err := decodeMessage(msg)
	if err != nil {
		// Malformed entries are acked so they are not redelivered.
		e.logger.Error("dropping malformed stream entry",
			zap.String("stream", key),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		e.ack(ctx, key, msg.ID)
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Warn("event handler failed",
			zap.String("stream", key),
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return
	}
	e.ack(ctx, key, msg.ID)
}

func (e *StreamsEventBus) ack(ctx context.Context, key, id string) {
	if err := e.client.XAck(ctx, key, e.consumerGroup, id).Err(); err != nil && ctx.Err() == nil {
		e.logger.Error("event ack failed",
			zap.String("stream", key),
			zap.String("message_id", id),
			zap.Error(err))
	}
}

// Recent returns up to n of the newest events on topic, oldest first.
// It reads the stream directly and does not touch consumer groups.
func (e *StreamsEventBus) Recent(ctx context.Context, topic string, n int) ([]domain.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := e.client.XRevRangeN(ctx, streamKey(topic), "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent events on %s: %w", topic, err)
	}

	events := make([]domain.Event, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		event, err := decodeMessage(msgs[i])
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close stops every reader and waits for them to exit. The Redis client
// is owned by the caller and stays open.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancels := e.cancels
	e.cancels = nil
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	e.readers.Wait()
	return nil
}

func decodeMessage(msg redis.XMessage) (domain.Event, error) {
	raw, ok := msg.Values[fieldPayload].(string)
	if !ok {
		return domain.Event{}, fmt.Errorf("entry %s has no %q field", msg.ID, fieldPayload)
	}
	var event domain.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return domain.Event{}, fmt.Errorf("decode entry %s: %w", msg.ID, err)
	}
	return event, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func streamKey(topic string) string {
	return "ghostqa:events:" + topic
}
