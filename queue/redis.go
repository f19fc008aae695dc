package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
)

// Redis is a Redis-list-backed transport for distributed workers: tasks are
// LPUSHed onto a per-queue list and claimed with BLMOVE into a processing
// list, which preserves them across worker crashes until acknowledged
// (at-least-once). Ack removes the envelope from the processing list.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ bridge.Queue = (*Redis)(nil)

// envelope is the wire form of one delivery on a Redis list.
type envelope struct {
	Token string       `json:"token"`
	Task  *bridge.Task `json:"task"`
}

// RedisOption configures a Redis transport.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the default "datanika" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.keyPrefix = prefix }
}

// NewRedis creates a transport on an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, keyPrefix: "datanika"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) queueKey(name string) string {
	return fmt.Sprintf("%s:queue:%s", r.keyPrefix, name)
}

func (r *Redis) processingKey(name string) string {
	return fmt.Sprintf("%s:queue:%s:processing", r.keyPrefix, name)
}

// Enqueue pushes the task onto its queue list. Connectivity failures map to
// core.ErrQueueUnavailable so the bridge retries with backoff.
func (r *Redis) Enqueue(ctx context.Context, t *bridge.Task) error {
	env := envelope{Token: uuid.NewString(), Task: t}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: marshal task %s: %w", t.ID, err)
	}
	if err := r.client.LPush(ctx, r.queueKey(t.Queue), data).Err(); err != nil {
		return fmt.Errorf("%w: lpush: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

// Receive claims the next task from one of the queues with BLMOVE, moving
// its envelope to the processing list until acked.
func (r *Redis) Receive(ctx context.Context, queues []string, wait time.Duration) (*bridge.Delivery, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	perQueue := wait / time.Duration(len(queues))
	if perQueue < 100*time.Millisecond {
		perQueue = 100 * time.Millisecond
	}

	for _, name := range queues {
		data, err := r.client.BLMove(ctx, r.queueKey(name), r.processingKey(name), "RIGHT", "LEFT", perQueue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: blmove: %v", core.ErrQueueUnavailable, err)
		}

		var env envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			// Poison payload: drop it from the processing list so it
			// cannot wedge the queue.
			r.client.LRem(ctx, r.processingKey(name), 1, data)
			return nil, fmt.Errorf("queue: unmarshal envelope: %w", err)
		}
		return &bridge.Delivery{Task: env.Task, Token: env.Token}, nil
	}
	return nil, nil
}

// Ack removes the delivery's envelope from the processing list.
func (r *Redis) Ack(ctx context.Context, d *bridge.Delivery) error {
	env := envelope{Token: d.Token, Task: d.Task}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: marshal ack %s: %w", d.Task.ID, err)
	}
	if err := r.client.LRem(ctx, r.processingKey(d.Task.Queue), 1, data).Err(); err != nil {
		return fmt.Errorf("%w: lrem: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

// Redeliver moves every unacked envelope on the processing lists back onto
// their queues. Called at startup to recover tasks from crashed workers.
func (r *Redis) Redeliver(ctx context.Context, queues []string) error {
	for _, name := range queues {
		for {
			_, err := r.client.RPopLPush(ctx, r.processingKey(name), r.queueKey(name)).Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return fmt.Errorf("%w: redeliver: %v", core.ErrQueueUnavailable, err)
			}
		}
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
