package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outbox holds durable messages for users who are offline until their next login.
type Outbox interface {
	Push(ctx context.Context, userID string, payload []byte, ttl time.Duration) error
	Drain(ctx context.Context, userID string) ([][]byte, error)
	Close() error
}

type outboxEntry struct {
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// MemoryOutbox keeps undelivered messages in process memory.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries map[string][]outboxEntry
	now     func() time.Time
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{
		entries: make(map[string][]outboxEntry),
		now:     time.Now,
	}
}

func (o *MemoryOutbox) Push(_ context.Context, userID string, payload []byte, ttl time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.entries[userID] = append(o.entries[userID], outboxEntry{
		Payload:   append(json.RawMessage(nil), payload...),
		ExpiresAt: o.now().Add(ttl),
	})
	return nil
}

func (o *MemoryOutbox) Drain(_ context.Context, userID string) ([][]byte, error) {
	o.mu.Lock()
	entries := o.entries[userID]
	delete(o.entries, userID)
	o.mu.Unlock()

	return live(entries, o.now()), nil
}

func (o *MemoryOutbox) Close() error {
	return nil
}

func live(entries []outboxEntry, now time.Time) [][]byte {
	var out [][]byte
	for _, e := range entries {
		if now.Before(e.ExpiresAt) {
			out = append(out, e.Payload)
		}
	}
	return out
}

// RedisOutbox keeps one list per user so queued messages survive a restart.
type RedisOutbox struct {
	client *redis.Client
	prefix string
}

func NewRedisOutbox(client *redis.Client, prefix string) *RedisOutbox {
	return &RedisOutbox{client: client, prefix: prefix}
}

func (o *RedisOutbox) key(userID string) string {
	return o.prefix + userID
}

func (o *RedisOutbox) Push(ctx context.Context, userID string, payload []byte, ttl time.Duration) error {
	data, err := json.Marshal(outboxEntry{Payload: payload, ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("outbox marshal error: %w", err)
	}

	key := o.key(userID)
	if err := o.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("outbox push error: %w", err)
	}

	// the list lives as long as its longest-lived entry
	cur, err := o.client.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("outbox ttl error: %w", err)
	}
	if cur < ttl {
		if err := o.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("outbox expire error: %w", err)
		}
	}
	return nil
}

func (o *RedisOutbox) Drain(ctx context.Context, userID string) ([][]byte, error) {
	key := o.key(userID)

	var items *redis.StringSliceCmd
	_, err := o.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("outbox drain error: %w", err)
	}

	var entries []outboxEntry
	for _, raw := range items.Val() {
		var e outboxEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return live(entries, time.Now()), nil
}

func (o *RedisOutbox) Ping(ctx context.Context) error {
	return o.client.Ping(ctx).Err()
}

func (o *RedisOutbox) Close() error {
	return o.client.Close()
}
