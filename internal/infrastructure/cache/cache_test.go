package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/infrastructure/config"
)

func setupTestRedis(t *testing.T) (*redisCache, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := &config.RedisConfig{
		URL:         mr.Addr(),
		DialTimeout: 5 * time.Second,
	}

	cache, err := NewRedisCache(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return cache.(*redisCache), mr, cleanup
}

func TestNewRedisCache(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		cache, _, cleanup := setupTestRedis(t)
		defer cleanup()

		assert.NotNil(t, cache.client)
		assert.NotNil(t, cache.logger)
	})

	t.Run("redis url", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache, err := NewRedisCache(&config.RedisConfig{URL: "redis://" + mr.Addr() + "/0"}, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer cache.Close()
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewRedisCache(&config.RedisConfig{URL: "localhost:6379"}, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewRedisCache(nil, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		cfg := &config.RedisConfig{
			URL:         "localhost:9999",
			DialTimeout: 100 * time.Millisecond,
		}
		_, err := NewRedisCache(cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis connection failed")
	})
}

func TestRedisCache_BasicOperations(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
		got, err := cache.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("get missing key", func(t *testing.T) {
		_, err := cache.Get(ctx, "missing")
		assert.ErrorAs(t, err, &ErrCacheKeyNotFound{})
	})

	t.Run("ttl expiry", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "short", "v", time.Second))
		mr.FastForward(2 * time.Second)
		exists, err := cache.Exists(ctx, "short")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "gone", "v", 0))
		require.NoError(t, cache.Delete(ctx, "gone"))
		exists, err := cache.Exists(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("json round trip", func(t *testing.T) {
		in := map[string]int{"a": 1}
		require.NoError(t, cache.SetJSON(ctx, "j", in, time.Minute))
		var out map[string]int
		require.NoError(t, cache.GetJSON(ctx, "j", &out))
		assert.Equal(t, in, out)
	})

	t.Run("invalid json", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "bad", "{", 0))
		var out map[string]int
		err := cache.GetJSON(ctx, "bad", &out)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "json unmarshal failed")
	})
}

func TestMembershipCache(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	mc := NewMembershipCache(cache, "test:", time.Hour, zaptest.NewLogger(t))
	resolved := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, mc.Store(ctx, "IT-Admins", []string{"bob", "alice"}, resolved))
	assert.True(t, mr.Exists("test:group:it-admins"))

	t.Run("lookup is case insensitive", func(t *testing.T) {
		snap, err := mc.Load(ctx, "it-ADMINS")
		require.NoError(t, err)
		assert.Equal(t, "IT-Admins", snap.Group)
		assert.Equal(t, []string{"bob", "alice"}, snap.Members)
		assert.True(t, resolved.Equal(snap.ResolvedAt))
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := mc.Load(ctx, "Nobody")
		assert.ErrorIs(t, err, elevation.ErrNoSnapshot)
	})

	t.Run("empty group is stored as empty list", func(t *testing.T) {
		require.NoError(t, mc.Store(ctx, "Empty", nil, resolved))
		snap, err := mc.Load(ctx, "Empty")
		require.NoError(t, err)
		assert.NotNil(t, snap.Members)
		assert.Empty(t, snap.Members)
	})

	t.Run("expired snapshot", func(t *testing.T) {
		mr.FastForward(2 * time.Hour)
		_, err := mc.Load(ctx, "IT-Admins")
		assert.ErrorIs(t, err, elevation.ErrNoSnapshot)
	})

	t.Run("invalidate", func(t *testing.T) {
		require.NoError(t, mc.Store(ctx, "NetOps", []string{"erin"}, resolved))
		require.NoError(t, mc.Invalidate(ctx, "NetOps"))
		_, err := mc.Load(ctx, "NetOps")
		assert.ErrorIs(t, err, elevation.ErrNoSnapshot)
	})
}

func TestFileStore(t *testing.T) {
	store := NewFileStore(zaptest.NewLogger(t))
	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")

	var out []string
	found, err := store.Load(path, &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Save(path, []string{"a", "b"}))
	found, err = store.Load(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "b"}, out)

	require.NoError(t, store.Save(path, []string{"c"}))
	out = nil
	_, err = store.Load(path, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	found, err = store.Load(path, &out)
	assert.True(t, found)
	assert.Error(t, err)
}
