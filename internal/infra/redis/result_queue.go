package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assessx-live/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ResultQueue is a ResultSink that defers durable writes to a worker by
// pushing records onto a Redis list.
type ResultQueue struct {
	client *redis.Client
	key    string
}

func NewResultQueue(client *redis.Client) *ResultQueue {
	return &ResultQueue{client: client, key: ResultsQueueKey}
}

func (q *ResultQueue) Record(ctx context.Context, record domain.ScoringRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("enqueue record: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. ok is false on timeout.
func (q *ResultQueue) Pop(ctx context.Context, timeout time.Duration) (domain.ScoringRecord, bool, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ScoringRecord{}, false, nil
	}
	if err != nil {
		return domain.ScoringRecord{}, false, fmt.Errorf("dequeue record: %w", err)
	}
	// res[0] is the key, res[1] the value
	var record domain.ScoringRecord
	if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
		return domain.ScoringRecord{}, false, fmt.Errorf("decode record: %w", err)
	}
	return record, true, nil
}

// TryPop returns the next record without blocking.
func (q *ResultQueue) TryPop(ctx context.Context) (domain.ScoringRecord, bool, error) {
	raw, err := q.client.LPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ScoringRecord{}, false, nil
	}
	if err != nil {
		return domain.ScoringRecord{}, false, fmt.Errorf("dequeue record: %w", err)
	}
	var record domain.ScoringRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.ScoringRecord{}, false, fmt.Errorf("decode record: %w", err)
	}
	return record, true, nil
}

// Len reports the queue depth.
func (q *ResultQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
