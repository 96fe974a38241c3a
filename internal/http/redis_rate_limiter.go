package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisLimiterPrefix  = "perfwatch:ratelimit:"
	redisLimiterTimeout = 250 * time.Millisecond
)

// fixedWindowScript counts one hit and opens the window on the first one.
// It returns the hit count and the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local hits = redis.call('INCR', KEYS[1])
if hits == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {hits, redis.call('PTTL', KEYS[1])}
`)

type redisRateLimiter struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisRateLimiter returns a limiter whose windows are shared by every relay
// replica using the same Redis.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedisRateLimiter(client, logger), nil
}

func newRedisRateLimiter(client *redis.Client, logger *slog.Logger) *redisRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisRateLimiter{client: client, log: logger.With("component", "rate_limiter")}
}

// Allow lets the request through when Redis cannot answer.
func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = rateWindow
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisLimiterTimeout)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, rl.client, []string{redisLimiterPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		rl.log.Error("redis rate limiter unavailable", "key", key, "error", err)
		return rateDecision{allowed: true}
	}
	hits, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl <= 0 {
		ttl = window
	}
	return rateDecision{
		allowed:   hits <= limit,
		count:     hits,
		windowEnd: time.Now().Add(ttl),
	}
}

func (rl *redisRateLimiter) Close() {
	_ = rl.client.Close()
}
