package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptofx/pkg/clients"
)

func newRedisBacked(t *testing.T) (*Tiered, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := New(context.Background(), Options{
		LocalCapacity: 100,
		SharedTimeout: 200 * time.Millisecond,
		ProbeInterval: 20 * time.Millisecond,
		Breaker:       clients.CircuitBreakerConfig{Name: "cache-shared", Timeout: 20 * time.Millisecond},
		Logger:        logrus.New(),
	}, NewRedisStore(client, "cfx:"))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestTieredLocalOnly(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, Options{LocalCapacity: 5}, nil)
	defer c.Close()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	stats := c.Stats()
	assert.Equal(t, Stats{LocalSize: 1, LocalCapacity: 5, SharedReachable: false, SharedEnabled: false}, stats)
}

func TestTieredWritesBothTiers(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisBacked(t)

	c.Set(ctx, "crypto:prices:btc", []byte(`{"usd":1}`), time.Minute)

	got, err := mr.Get("cfx:crypto:prices:btc")
	require.NoError(t, err)
	assert.Equal(t, `{"usd":1}`, got)
	assert.Equal(t, time.Minute, mr.TTL("cfx:crypto:prices:btc"))

	_, ok := c.Local().Get("crypto:prices:btc")
	assert.True(t, ok)
	stats := c.Stats()
	assert.True(t, stats.SharedReachable)
	assert.Equal(t, "cache-shared", stats.Breaker)
	assert.Equal(t, "closed", stats.BreakerState)
}

func TestTieredReadsSharedFirst(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisBacked(t)

	c.Local().Set("k", []byte("local"), time.Minute)
	require.NoError(t, mr.Set("cfx:k", "shared"))

	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "shared", string(v))
}

func TestTieredFallsBackToLocalOnSharedMiss(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisBacked(t)

	c.Local().Set("k", []byte("local"), time.Minute)
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "local", string(v))

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)
	assert.True(t, c.Stats().SharedReachable, "a miss must not mark the shared store unreachable")
}

func TestTieredDegradesAndRecovers(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisBacked(t)

	c.Set(ctx, "k", []byte("v1"), time.Minute)
	mr.Close()

	v, ok := c.Get(ctx, "k")
	require.True(t, ok, "reads must fall back to the local tier")
	assert.Equal(t, "v1", string(v))
	assert.False(t, c.Stats().SharedReachable)
	assert.True(t, c.Stats().SharedEnabled)

	c.Set(ctx, "k2", []byte("v2"), time.Minute)
	v, ok = c.Get(ctx, "k2")
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))

	require.NoError(t, mr.Restart())
	require.Eventually(t, func() bool {
		return c.Stats().SharedReachable
	}, 2*time.Second, 10*time.Millisecond)

	c.Set(ctx, "k3", []byte("v3"), time.Minute)
	got, err := mr.Get("cfx:k3")
	require.NoError(t, err)
	assert.Equal(t, "v3", got)
}

func TestTieredStaleNamespace(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisBacked(t)

	c.SetStale(ctx, "forex:rates:EUR", []byte("old"), time.Hour)

	_, ok := c.Get(ctx, "forex:rates:EUR")
	assert.False(t, ok, "stale writes must not populate the primary key")

	v, ok := c.GetStale(ctx, "forex:rates:EUR")
	require.True(t, ok)
	assert.Equal(t, "old", string(v))
	assert.True(t, mr.Exists("cfx:forex:rates:EUR:stale"))
}

func TestTieredExpiredPrimaryStillHasStale(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, Options{LocalCapacity: 10}, nil)
	defer c.Close()

	now := time.Now()
	c.Local().now = func() time.Time { return now }
	c.Set(ctx, "k", []byte("fresh"), time.Second)
	c.SetStale(ctx, "k", []byte("fresh"), time.Hour)

	now = now.Add(2 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	v, ok := c.GetStale(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "fresh", string(v))
}

func TestTieredDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisBacked(t)

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	require.NoError(t, mr.Set("other:key", "untouched"))

	c.Delete(ctx, "a")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	assert.False(t, mr.Exists("cfx:a"))

	c.Clear(ctx)
	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().LocalSize)
	assert.True(t, mr.Exists("other:key"), "clear must only remove prefixed keys")
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, Options{}, nil)
	defer c.Close()

	type quote struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	require.NoError(t, SetWithStale(ctx, c, "q", quote{Symbol: "BTC", Price: 1.5}, time.Minute, time.Hour))

	got, ok, err := GetJSON[quote](ctx, c, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTC", got.Symbol)

	stale, ok, err := GetStaleJSON[quote](ctx, c, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.5, stale.Price)

	c.Set(ctx, "bad", []byte("{"), time.Minute)
	_, _, err = GetJSON[quote](ctx, c, "bad")
	assert.Error(t, err)
}
