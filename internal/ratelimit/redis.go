package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "govledger:rl:"

// incrWindow increments a counter, starts its expiry on the first hit and
// returns {count, pttl}.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RedisStore shares counters between instances through Redis.
type RedisStore struct {
	client redis.Scripter
	now    func() time.Time
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Allow implements Store.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	vals, err := incrWindow.Run(ctx, s.client, []string{redisKeyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit incr: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("rate limit incr: unexpected reply %v", vals)
	}
	count, ttl := vals[0], time.Duration(vals[1])*time.Millisecond
	if ttl < 0 {
		ttl = window
	}

	now := s.now()
	res := &Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining(limit, count),
		ResetAt:   now.Add(ttl),
	}
	if !res.Allowed {
		res.RetryAfter = retryAfter(now, res.ResetAt)
	}
	return res, nil
}
