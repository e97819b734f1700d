package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"dinein-commerce/internal/common/clock"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisGuard_Claim(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	g := NewRedisGuard(client, "test:", time.Hour)

	release, ok, err := g.Claim(ctx, "wamid", "ABC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("test:dedupe:wamid:ABC"))

	_, ok, err = g.Claim(ctx, "wamid", "ABC")
	require.NoError(t, err)
	assert.False(t, ok, "duplicate delivery must be rejected")

	require.NoError(t, release(ctx))
	_, ok, err = g.Claim(ctx, "wamid", "ABC")
	require.NoError(t, err)
	assert.True(t, ok, "released claims can be taken again")

	mr.FastForward(2 * time.Hour)
	_, ok, _ = g.Claim(ctx, "wamid", "ABC")
	assert.True(t, ok, "claims expire with the TTL")
}

func TestRedisGuard_SharedPrefixKeepsScopesApart(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	requests := NewRedisGuard(client, "dinein:", time.Hour)
	messages := NewRedisGuard(client, "dinein:", time.Hour)

	_, ok, err := requests.Claim(ctx, "exchange", "ID1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = messages.Claim(ctx, "wa_msg", "ID1")
	require.NoError(t, err)
	assert.True(t, ok, "same id under another scope is a separate claim")

	assert.ElementsMatch(t, []string{"dinein:dedupe:exchange:ID1", "dinein:dedupe:wa_msg:ID1"}, mr.Keys())
}

func TestRedisGuard_ReleaseIgnoresForeignToken(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	g := NewRedisGuard(client, "test:", time.Hour)
	release, ok, err := g.Claim(ctx, "exchange", "req-1")
	require.NoError(t, err)
	require.True(t, ok)

	// someone else took over the key after expiry
	require.NoError(t, mr.Set("test:dedupe:exchange:req-1", "other-token"))
	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("test:dedupe:exchange:req-1"))
}

func TestRedisGuard_RedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX(`test:dedupe:wamid:X`, `.*`, time.Hour).SetErr(errors.New("redis down"))

	_, ok, err := NewRedisGuard(client, "test:", time.Hour).Claim(context.Background(), "wamid", "X")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestMemoryGuard(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	g := NewMemoryGuard(time.Minute, fake)
	ctx := context.Background()

	_, ok, _ := g.Claim(ctx, "s", "1")
	assert.True(t, ok)
	_, ok, _ = g.Claim(ctx, "s", "1")
	assert.False(t, ok)

	fake.Advance(2 * time.Minute)
	_, ok, _ = g.Claim(ctx, "s", "1")
	assert.True(t, ok)
}
