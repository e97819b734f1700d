// Package dedupe guards against processing the same inbound event twice.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dinein-commerce/internal/common/clock"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReleaseFunc gives a claim back so a redelivery of the same event is processed again.
type ReleaseFunc func(ctx context.Context) error

// Guard claims event ids. A false ok means the id was already claimed within the TTL.
type Guard interface {
	Claim(ctx context.Context, scope, id string) (release ReleaseFunc, ok bool, err error)
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisGuard claims with SET NX and releases with a compare-and-delete script.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, scope, id string) (ReleaseFunc, bool, error) {
	key := g.prefix + "dedupe:" + scope + ":" + id
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis error claiming %s: %w", scope, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		return g.client.Eval(ctx, releaseScript, []string{key}, token).Err()
	}, true, nil
}

// MemoryGuard is a single-process Guard.
type MemoryGuard struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  clock.Clock
	claims map[string]time.Time
}

func NewMemoryGuard(ttl time.Duration, c clock.Clock) *MemoryGuard {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryGuard{ttl: ttl, clock: c, claims: make(map[string]time.Time)}
}

func (g *MemoryGuard) Claim(_ context.Context, scope, id string) (ReleaseFunc, bool, error) {
	key := scope + ":" + id
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	if exp, ok := g.claims[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	g.claims[key] = now.Add(g.ttl)
	return func(context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.claims, key)
		return nil
	}, true, nil
}
