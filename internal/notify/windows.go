package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dinein-commerce/internal/common/clock"

	"github.com/redis/go-redis/v9"
)

// WindowStore counts events in fixed windows aligned to the window length.
type WindowStore interface {
	// Peek reports the count in the current window without adding to it.
	Peek(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
	// Incr adds one and reports the new count.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

// MemoryWindowStore keeps counters in process.
type MemoryWindowStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	buckets map[string]bucket
}

type bucket struct {
	start time.Time
	count int64
}

func NewMemoryWindowStore(c clock.Clock) *MemoryWindowStore {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryWindowStore{clock: c, buckets: make(map[string]bucket)}
}

func (m *MemoryWindowStore) current(key string, window time.Duration) bucket {
	start := windowStart(m.clock.Now(), window)
	b := m.buckets[key]
	if !b.start.Equal(start) {
		b = bucket{start: start}
	}
	return b
}

func (m *MemoryWindowStore) Peek(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.current(key, window)
	return b.count, b.start.Add(window), nil
}

func (m *MemoryWindowStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.current(key, window)
	b.count++
	m.buckets[key] = b
	return b.count, b.start.Add(window), nil
}

// RedisWindowStore shares counters between processes. Each window gets its own key that
// expires shortly after the window closes.
type RedisWindowStore struct {
	client *redis.Client
	prefix string
	clock  clock.Clock
}

func NewRedisWindowStore(client *redis.Client, prefix string, c clock.Clock) *RedisWindowStore {
	if c == nil {
		c = clock.Real()
	}
	return &RedisWindowStore{client: client, prefix: prefix, clock: c}
}

func (r *RedisWindowStore) key(key string, start time.Time) string {
	return fmt.Sprintf("%sthrottle:%s:%d", r.prefix, key, start.Unix())
}

func (r *RedisWindowStore) Peek(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	start := windowStart(r.clock.Now(), window)
	n, err := r.client.Get(ctx, r.key(key, start)).Int64()
	if err == redis.Nil {
		return 0, start.Add(window), nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("throttle peek: %w", err)
	}
	return n, start.Add(window), nil
}

func (r *RedisWindowStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	start := windowStart(r.clock.Now(), window)
	k := r.key(key, start)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, window+time.Minute)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("throttle incr: %w", err)
	}
	return incr.Val(), start.Add(window), nil
}
