// Package redis implements tracker.Tracker on a Redis server, the shared
// backend for multi-instance deployments.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tenxso/feedd/internal/tracker"
)

// DefaultIdleTTL bounds how long an abandoned session's chunk set lingers.
// Every AddBlock refreshes it, so only sessions with no traffic expire.
const DefaultIdleTTL = 24 * time.Hour

const completionQueueKey = "upload:completions"

// Config controls the Redis tracker.
type Config struct {
	// URL is a redis:// or rediss:// connection string.
	URL string
	// IdleTTL overrides DefaultIdleTTL when positive.
	IdleTTL time.Duration
}

// Tracker implements tracker.Tracker backed by Redis.
type Tracker struct {
	client  *redis.Client
	idleTTL time.Duration
}

// New connects to Redis using the supplied configuration.
func New(cfg Config) (*Tracker, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = DefaultIdleTTL
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Tracker{client: client, idleTTL: idle}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client) *Tracker {
	return &Tracker{client: client, idleTTL: DefaultIdleTTL}
}

func chunksKey(sessionID string) string {
	return "upload:" + sessionID + ":chunks"
}

func lockKey(sessionID string) string {
	return "upload:" + sessionID + ":lock"
}

// AddBlock records the block in the session's chunk set and returns the
// distinct block count. The set's idle TTL is refreshed on every call.
func (t *Tracker) AddBlock(ctx context.Context, sessionID, blockID string) (int64, error) {
	key := chunksKey(sessionID)
	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, key, blockID)
	pipe.Expire(ctx, key, t.idleTTL)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: add block: %w", err)
	}
	return card.Val(), nil
}

// Blocks returns the session's recorded block ids.
func (t *Tracker) Blocks(ctx context.Context, sessionID string) ([]string, error) {
	members, err := t.client.SMembers(ctx, chunksKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list blocks: %w", err)
	}
	return members, nil
}

// DeleteSession removes the session's chunk set.
func (t *Tracker) DeleteSession(ctx context.Context, sessionID string) error {
	if err := t.client.Del(ctx, chunksKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: delete session: %w", err)
	}
	return nil
}

// TryAcquireLease claims the session's finalize lease with SET NX EX.
func (t *Tracker) TryAcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, lockKey(sessionID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lease: %w", err)
	}
	return ok, nil
}

// ReleaseLease drops the session's finalize lease.
func (t *Tracker) ReleaseLease(ctx context.Context, sessionID string) error {
	if err := t.client.Del(ctx, lockKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: release lease: %w", err)
	}
	return nil
}

// EnqueueCompletion pushes the completion onto the finalization queue.
func (t *Tracker) EnqueueCompletion(ctx context.Context, c tracker.Completion) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis: marshal completion: %w", err)
	}
	if err := t.client.LPush(ctx, completionQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("redis: enqueue completion: %w", err)
	}
	return nil
}

// DequeueCompletion pops the oldest completion from the queue.
func (t *Tracker) DequeueCompletion(ctx context.Context) (tracker.Completion, bool, error) {
	payload, err := t.client.RPop(ctx, completionQueueKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return tracker.Completion{}, false, nil
		}
		return tracker.Completion{}, false, fmt.Errorf("redis: dequeue completion: %w", err)
	}
	var c tracker.Completion
	if err := json.Unmarshal(payload, &c); err != nil {
		return tracker.Completion{}, false, fmt.Errorf("redis: decode completion: %w", err)
	}
	return c, true, nil
}

// Close closes the underlying client.
func (t *Tracker) Close() error {
	return t.client.Close()
}
