// Package ratelimiter throttles billing mutations per user with a token
// bucket.
//
// Each user starts with Capacity tokens; every mutating billing request
// takes one and RefillRate tokens come back every RefillInterval. A denied
// request does not drain the bucket further.
//
//	limiter, err := ratelimiter.New(ratelimiter.NewRedisStore(client, redisCfg), cfg)
//	if err != nil {
//		return err
//	}
//	res, err := limiter.Allow(ctx, userID)
//	if err == nil && !res.Allowed() {
//		// reject, retry after res.RetryAfter()
//	}
//
// MemoryStore serves single-process setups and tests. RedisStore keeps the
// buckets in Redis so every API replica shares them; the refill and take
// run in one Lua script.
package ratelimiter
