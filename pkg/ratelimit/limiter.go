// Package ratelimit throttles inbound chat traffic per sender. A Redis token
// bucket keeps the limit consistent across replicas; every accepted message
// costs one token.
package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// Config holds the per-sender message budget.
type Config struct {
	Enabled   bool
	PerMinute int // sustained messages per minute
	Burst     int // bucket capacity
}

// Limiter is a Redis-backed token bucket keyed by sender phone. A nil limiter
// allows everything.
type Limiter struct {
	client redis.Cmdable
	script *redis.Script
	rate   float64 // tokens per second
	burst  float64
	now    func() time.Time
}

const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local refillRate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "timestamp")
local tokens = tonumber(data[1])
local timestamp = tonumber(data[2])

if tokens == nil then
    tokens = capacity
    timestamp = now
else
    if timestamp == nil then
        timestamp = now
    end
    local delta = now - timestamp
    if delta > 0 then
        tokens = math.min(capacity, tokens + (delta * refillRate))
        timestamp = now
    end
end

local allowed = 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
end

redis.call("HMSET", key, "tokens", tokens, "timestamp", timestamp)
redis.call("EXPIRE", key, ttl)

return allowed
`

// NewLimiter creates a limiter.
func NewLimiter(client redis.Cmdable, cfg Config) *Limiter {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Limiter{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   float64(perMinute) / 60.0,
		burst:  float64(burst),
		now:    time.Now,
	}
}

// Allow reports whether one more message from the sender fits the budget.
// Redis failures fail open: dropping legitimate messages is worse than
// letting a burst through while Redis is down.
func (l *Limiter) Allow(ctx context.Context, phone string) bool {
	if l == nil {
		return true
	}

	key := "ratelimit:msg:" + phone
	// TTL long enough for a drained bucket to refill fully.
	ttl := int(l.burst/l.rate) + 60

	res, err := l.script.Run(ctx, l.client, []string{key},
		float64(l.now().UnixMilli())/1000.0, l.rate, l.burst, ttl).Int()
	if err != nil {
		logger.WarnContext(ctx, "rate limiter unavailable, allowing message",
			zap.String("phone", phone), zap.Error(err))
		return true
	}
	return res == 1
}
