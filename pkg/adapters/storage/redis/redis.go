package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harshakreox/ghostqa/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	recordKeyPrefix = "ghostqa:record:"
	historyKey      = "ghostqa:history"
)

// RecordStore implements RecordStore using Redis. Each record is a JSON
// value with a TTL; a capped list keeps request IDs newest first.
type RecordStore struct {
	client     *redis.Client
	logger     *zap.Logger
	ttl        time.Duration
	maxHistory int64
}

// NewRecordStore creates a new Redis record store
func NewRecordStore(client *redis.Client, ttl time.Duration, maxHistory int, logger *zap.Logger) *RecordStore {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &RecordStore{
		client:     client,
		logger:     logger,
		ttl:        ttl,
		maxHistory: int64(maxHistory),
	}
}

// Append persists rec and pushes it onto the history list.
func (s *RecordStore) Append(ctx context.Context, rec *domain.ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, getRecordKey(rec.RequestID), data, s.ttl)
	pipe.LPush(ctx, historyKey, rec.RequestID)
	pipe.LTrim(ctx, historyKey, 0, s.maxHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return &domain.StoreUnavailableError{Op: "append record", Err: err}
	}

	s.logger.Debug("execution record saved",
		zap.String("request_id", rec.RequestID),
		zap.String("status", string(rec.Status)))

	return nil
}

// Get retrieves the record for a request.
func (s *RecordStore) Get(ctx context.Context, requestID string) (*domain.ExecutionRecord, error) {
	data, err := s.client.Get(ctx, getRecordKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, &domain.StoreUnavailableError{Op: "get record", Err: err}
	}

	var rec domain.ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// List returns up to limit records, most recent first. Records whose TTL
// has expired are skipped.
func (s *RecordStore) List(ctx context.Context, limit int) ([]*domain.ExecutionRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := s.client.LRange(ctx, historyKey, 0, stop).Result()
	if err != nil {
		return nil, &domain.StoreUnavailableError{Op: "list records", Err: err}
	}
	if len(ids) == 0 {
		return []*domain.ExecutionRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = getRecordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, &domain.StoreUnavailableError{Op: "list records", Err: err}
	}

	records := make([]*domain.ExecutionRecord, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.ExecutionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping unreadable record",
				zap.String("request_id", ids[i]),
				zap.Error(err))
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// getRecordKey returns the Redis key for an execution record
func getRecordKey(requestID string) string {
	return recordKeyPrefix + requestID
}
