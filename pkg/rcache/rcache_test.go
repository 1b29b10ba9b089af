package rcache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryStore_SetGetExpiry(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", json.RawMessage(`"v"`), 20*time.Millisecond))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage(`"v"`), v)

	time.Sleep(40 * time.Millisecond)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadOnlyClassifier(t *testing.T) {
	t.Parallel()
	c := NewReadOnlyClassifier([]string{"weather:current", "ping"})

	assert.True(t, c.IsReadOnly("any", "any", true))
	assert.True(t, c.IsReadOnly("weather", "current", false))
	assert.True(t, c.IsReadOnly("other", "ping", false))
	assert.False(t, c.IsReadOnly("other", "write_file", false))
}

func TestCache_CacheHitOnRepeat(t *testing.T) {
	t.Parallel()
	cache := New(NewMemoryStore(), time.Minute, NewReadOnlyClassifier(nil))
	ctx := context.Background()

	_, hit := cache.Lookup(ctx, "w", "weather_current", true, "fp1")
	assert.False(t, hit)

	cache.Store(ctx, "w", "weather_current", true, "fp1", json.RawMessage(`{"temp":10}`))

	v, hit := cache.Lookup(ctx, "w", "weather_current", true, "fp1")
	assert.True(t, hit)
	assert.JSONEq(t, `{"temp":10}`, string(v))
}

func TestCache_NonReadOnlyNeverCached(t *testing.T) {
	t.Parallel()
	cache := New(NewMemoryStore(), time.Minute, NewReadOnlyClassifier(nil))
	ctx := context.Background()

	cache.Store(ctx, "w", "write_file", false, "fp2", json.RawMessage(`{}`))
	_, hit := cache.Lookup(ctx, "w", "write_file", false, "fp2")
	assert.False(t, hit)
}

func TestRedisStore_SetGet(t *testing.T) {
	t.Parallel()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "gw:rcache:")
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", json.RawMessage(`{"a":1}`), time.Minute))
	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(v))
}
