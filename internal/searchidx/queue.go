// Package searchidx queues topics whose content changed and indexes them
// into Meilisearch from a background worker.
package searchidx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Payload is one unit of reindex work. Ownership transfers to the queue
// on enqueue; the producer never waits for indexing.
type Payload struct {
	TenantID string `json:"tenantId"`
	TopicID  int64  `json:"topicId"`
}

const queueKey = "searchidx:queue"

// RedisQueue is a redis-list backed work queue of Payloads.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Enqueue pushes a payload. Failures are logged, not returned; indexing
// is best-effort from the producer's perspective.
func (q *RedisQueue) Enqueue(ctx context.Context, payload Payload) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("searchidx: marshal payload: %v", err)
		return
	}
	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		log.Printf("searchidx: enqueue topic %d: %v", payload.TopicID, err)
	}
}

// ErrEmpty is returned by Dequeue when no work arrived within the wait
// window.
var ErrEmpty = errors.New("search index queue empty")

// Dequeue blocks up to the given wait for the next payload.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (Payload, error) {
	result, err := q.client.BRPop(ctx, wait, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return Payload{}, ErrEmpty
	}
	if err != nil {
		return Payload{}, err
	}
	// BRPop returns [key, value].
	var payload Payload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		return Payload{}, err
	}
	return payload, nil
}

// Len reports the number of queued payloads.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, queueKey).Result()
}
