package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// callRateScript is a Lua script for sliding window rate limiting of call
// initiations per caller.
var callRateScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local resetAt = now + window
return {1, resetAt}
`)

const callRateWindow = 60 * time.Second

// CallRateLimiter caps how many call initiations one caller may issue per
// window, so a misbehaving client cannot ring a callee continuously.
type CallRateLimiter struct {
	client *redis.Client
	limit  int
}

func NewCallRateLimiter(client *redis.Client, limitPerMinute int) *CallRateLimiter {
	return &CallRateLimiter{client: client, limit: limitPerMinute}
}

// Allow reports whether callerID may initiate another call now. Redis being
// unreachable allows the call: signaling must not depend on the limiter
// being healthy.
func (rl *CallRateLimiter) Allow(ctx context.Context, callerID string) (allowed bool, resetAt time.Time) {
	now := time.Now().Unix()
	key := fmt.Sprintf("ratelimit:calls:%s", callerID)

	result, err := callRateScript.Run(
		ctx,
		rl.client,
		[]string{key},
		now,
		int64(callRateWindow.Seconds()),
		rl.limit,
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("callerId", callerID).
			Msg("call rate limit check failed, allowing call")
		return true, time.Now().Add(callRateWindow)
	}

	if len(result) != 2 {
		log.Warn().Str("callerId", callerID).Msg("unexpected call rate limit result, allowing call")
		return true, time.Now().Add(callRateWindow)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}
