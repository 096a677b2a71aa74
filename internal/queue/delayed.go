package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DelayedQueue is a durable, timestamp-ordered job queue backed by a Redis
// sorted set. Jobs are scored by their due time; claiming is atomic so a job
// moves to exactly one dispatcher even with several instances polling.
type DelayedQueue struct {
	client *redis.Client
	key    string
}

// NewDelayedQueue constructs a delayed queue on the given key.
func NewDelayedQueue(client *redis.Client, key string) *DelayedQueue {
	if key == "" {
		key = "wacampaign:dispatch:delayed"
	}
	return &DelayedQueue{client: client, key: key}
}

var claimScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local limit = tonumber(ARGV[2])
local due = redis.call('ZRANGEBYSCORE', key, '-inf', now, 'LIMIT', 0, limit)
if #due > 0 then
  redis.call('ZREM', key, unpack(due))
end
return due
`)

// Enqueue schedules the job at its due time. Scheduled work survives process
// restarts because the schedule lives in Redis, not in-process timers.
func (q *DelayedQueue) Enqueue(ctx context.Context, job SendJob) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("delayed queue: marshal job: %w", err)
	}

	member := redis.Z{
		Score:  float64(job.DueAt.UnixMilli()),
		Member: string(value),
	}
	if err := q.client.ZAdd(ctx, q.key, member).Err(); err != nil {
		return fmt.Errorf("delayed queue: zadd: %w", err)
	}
	return nil
}

// ClaimDue atomically removes and returns up to limit jobs whose due time is
// at or before now.
func (q *DelayedQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]SendJob, error) {
	if limit <= 0 {
		limit = 100
	}

	raw, err := claimScript.Run(ctx, q.client, []string{q.key}, now.UnixMilli(), limit).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("delayed queue: claim: %w", err)
	}

	jobs := make([]SendJob, 0, len(raw))
	for _, value := range raw {
		var job SendJob
		if err := json.Unmarshal([]byte(value), &job); err != nil {
			return nil, fmt.Errorf("delayed queue: unmarshal job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Size returns the number of pending jobs.
func (q *DelayedQueue) Size(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("delayed queue: zcard: %w", err)
	}
	return n, nil
}
