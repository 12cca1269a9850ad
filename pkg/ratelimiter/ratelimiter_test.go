package ratelimiter_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gigkeys/pkg/logger"
	"github.com/dmitrymomot/gigkeys/pkg/ratelimiter"
	"github.com/dmitrymomot/gigkeys/pkg/redis"
)

var base = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

var cfg = ratelimiter.Config{Capacity: 3, RefillRate: 1, RefillInterval: 10 * time.Second}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRedisStore(t *testing.T, clk *clock) ratelimiter.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimiter.NewRedisStore(client, redis.Config{KeyPrefix: "gigkeys:"}, ratelimiter.WithRedisClock(clk.Now))
}

func TestStores_Bucket(t *testing.T) {
	t.Parallel()

	factories := map[string]func(t *testing.T, clk *clock) ratelimiter.Store{
		"memory": func(_ *testing.T, clk *clock) ratelimiter.Store {
			return ratelimiter.NewMemoryStore(ratelimiter.WithClock(clk.Now))
		},
		"redis": newRedisStore,
	}

	for name, newStore := range factories {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			clk := &clock{now: base}
			store := newStore(t, clk)
			ctx := context.Background()

			take := func() (int, time.Time) {
				t.Helper()
				remaining, resetAt, err := store.Take(ctx, "user_1", 1, cfg)
				require.NoError(t, err)
				return remaining, resetAt
			}

			remaining, resetAt := take()
			assert.Equal(t, 2, remaining)
			assert.True(t, resetAt.Equal(base.Add(10*time.Second)), resetAt)
			take()
			remaining, _ = take()
			assert.Equal(t, 0, remaining)

			remaining, _ = take()
			assert.Equal(t, -1, remaining, "denied")
			remaining, _ = take()
			assert.Equal(t, -1, remaining, "denials do not drain the bucket")

			clk.Advance(10 * time.Second)
			remaining, resetAt = take()
			assert.Equal(t, 0, remaining)
			assert.True(t, resetAt.Equal(base.Add(20*time.Second)), resetAt)

			clk.Advance(25 * time.Second)
			remaining, resetAt = take()
			assert.Equal(t, 1, remaining)
			assert.True(t, resetAt.Equal(base.Add(40*time.Second)), resetAt)

			clk.Advance(100 * time.Second)
			remaining, resetAt = take()
			assert.Equal(t, 2, remaining, "refill is capped at capacity")
			assert.True(t, resetAt.Equal(clk.Now().Add(10*time.Second)), resetAt)

			require.NoError(t, store.Reset(ctx, "user_1"))
			remaining, _ = take()
			assert.Equal(t, 2, remaining)

			other, _, err := store.Take(ctx, "user_2", 3, cfg)
			require.NoError(t, err)
			assert.Equal(t, 0, other, "keys are independent")
		})
	}
}

func TestRedisStore_Keys(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := ratelimiter.NewRedisStore(client, redis.Config{KeyPrefix: "gigkeys:"})

	_, _, err := store.Take(context.Background(), "user_1", 1, cfg)
	require.NoError(t, err)

	assert.True(t, mr.Exists("gigkeys:ratelimit:user_1"))
	assert.Equal(t, "2", mr.HGet("gigkeys:ratelimit:user_1", "tokens"))
	assert.Equal(t, 40*time.Second, mr.TTL("gigkeys:ratelimit:user_1"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	store := ratelimiter.NewRedisStore(client, redis.Config{})
	_, _, err = store.Take(context.Background(), "user_1", 1, cfg)
	assert.ErrorIs(t, err, ratelimiter.ErrStoreUnavailable)
}

func TestMemoryStore_EvictsIdleBuckets(t *testing.T) {
	t.Parallel()

	clk := &clock{now: base}
	store := ratelimiter.NewMemoryStore(ratelimiter.WithClock(clk.Now))
	ctx := context.Background()

	_, _, err := store.Take(ctx, "user_1", 1, cfg)
	require.NoError(t, err)
	_, _, err = store.Take(ctx, "user_2", 1, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	clk.Advance(time.Minute)
	_, _, err = store.Take(ctx, "user_3", 1, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestNew(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore()
	for _, bad := range []ratelimiter.Config{
		{Capacity: 0, RefillRate: 1, RefillInterval: time.Second},
		{Capacity: 1, RefillRate: 0, RefillInterval: time.Second},
		{Capacity: 1, RefillRate: 1},
	} {
		_, err := ratelimiter.New(store, bad)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	}
	_, err := ratelimiter.New(nil, cfg)
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)

	l, err := ratelimiter.New(store, cfg)
	require.NoError(t, err)
	_, err = l.AllowN(context.Background(), "user_1", 0)
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)

	res, err := l.Allow(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, res.Allowed())
	assert.Equal(t, 3, res.Limit)
	assert.Zero(t, res.RetryAfter())
}

type failingStore struct{}

func (failingStore) Take(context.Context, string, int, ratelimiter.Config) (int, time.Time, error) {
	return 0, time.Time{}, errors.Join(ratelimiter.ErrStoreUnavailable, errors.New("connection refused"))
}

func (failingStore) Reset(context.Context, string) error { return nil }

func TestMiddleware(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	byUser := func(r *http.Request) string { return r.Header.Get("X-User-ID") }
	send := func(h http.Handler, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/create-subscription", nil)
		if user != "" {
			req.Header.Set("X-User-ID", user)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("denies after capacity", func(t *testing.T) {
		t.Parallel()
		start := time.Now()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithClock(func() time.Time { return start }))
		l, err := ratelimiter.New(store, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: 10 * time.Second})
		require.NoError(t, err)
		h := ratelimiter.Middleware(l, byUser, ratelimiter.WithDeniedHandler(http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
		)))(ok)

		rec := send(h, "user_1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

		rec = send(h, "user_1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "10", rec.Header().Get("Retry-After"))

		assert.Equal(t, http.StatusOK, send(h, "user_2").Code)
		assert.Equal(t, http.StatusOK, send(h, "").Code, "requests without a key are not limited")
	})

	t.Run("store failure lets requests through", func(t *testing.T) {
		t.Parallel()
		l, err := ratelimiter.New(failingStore{}, cfg)
		require.NoError(t, err)
		h := ratelimiter.Middleware(l, byUser, ratelimiter.WithLogger(logger.Nop()))(ok)

		rec := send(h, "user_1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})
}
