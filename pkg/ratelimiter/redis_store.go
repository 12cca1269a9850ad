package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/gigkeys/pkg/redis"
)

// takeScript mirrors Config.refill and MemoryStore.Take on millisecond
// timestamps.
var takeScript = goredis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local n = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "tokens", "refilled")
local tokens = tonumber(state[1])
local refilled = tonumber(state[2])
if tokens == nil or refilled == nil then
	tokens = capacity
	refilled = now
end

if now > refilled then
	local intervals = math.min(math.floor((now - refilled) / interval), math.floor(capacity / rate) + 1)
	if intervals > 0 then
		tokens = math.min(tokens + intervals * rate, capacity)
		if tokens == capacity then
			refilled = now
		else
			refilled = refilled + intervals * interval
		end
	end
end

local remaining = tokens - n
if remaining >= 0 then
	tokens = remaining
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "refilled", tostring(refilled))
redis.call("PEXPIRE", KEYS[1], ARGV[6])
return {remaining, refilled + interval}
`)

// RedisStore keeps buckets in Redis hashes under cfg.Key("ratelimit", key).
type RedisStore struct {
	client goredis.UniversalClient
	cfg    redis.Config
	now    func() time.Time
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisClock replaces time.Now. Bucket math runs on the caller's clock,
// not the Redis server's.
func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore panics on a nil client.
func NewRedisStore(client goredis.UniversalClient, cfg redis.Config, opts ...RedisStoreOption) *RedisStore {
	if client == nil {
		panic("ratelimiter: nil redis client")
	}
	s := &RedisStore{client: client, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Take(ctx context.Context, key string, n int, cfg Config) (int, time.Time, error) {
	args := []any{
		strconv.Itoa(cfg.Capacity),
		strconv.Itoa(cfg.RefillRate),
		strconv.FormatInt(cfg.RefillInterval.Milliseconds(), 10),
		strconv.FormatInt(s.now().UnixMilli(), 10),
		strconv.Itoa(n),
		strconv.FormatInt(cfg.idleTTL().Milliseconds(), 10),
	}
	vals, err := takeScript.Run(ctx, s.client, []string{s.key(key)}, args...).Int64Slice()
	if err != nil {
		return 0, time.Time{}, s.wrap(err)
	}
	if len(vals) != 2 {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, fmt.Errorf("unexpected script reply %v", vals))
	}
	return int(vals[0]), time.UnixMilli(vals[1]), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *RedisStore) key(key string) string {
	return s.cfg.Key("ratelimit", key)
}

func (s *RedisStore) wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}
