package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	limitKeyPrefix = "motorbot:ratelimit:"
	pairingWindow  = time.Minute
)

// slidingWindow keeps one sorted-set member per admitted hit, scored by its
// unix second. Returns {admitted, resetAt}. A rejected hit is not recorded.
var slidingWindow = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if #oldest >= 2 then
        return {0, tonumber(oldest[2]) + window}
    end
    return {0, now + window}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)
return {1, now + window}
`)

// RateLimiter throttles two things through Redis: API calls per client
// address (keys "api:<ip>", see middleware.RateLimitMiddleware) and pairing
// attempts per Telegram user (keys "pairing:<id>"). Both chat and HTTP
// pairing share the same pairing key, so one budget covers both surfaces.
//
// Redis errors deny the hit.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// CheckLimit records a hit on key and reports whether it fits in limit hits
// per window, plus when the oldest counted hit expires.
func (rl *RateLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	res, err := slidingWindow.Run(ctx, rl.client,
		[]string{limitKeyPrefix + key},
		time.Now().Unix(), int64(window.Seconds()), limit,
	).Int64Slice()
	if err != nil {
		return rl.deny(key, window, err)
	}
	if len(res) != 2 {
		return rl.deny(key, window, fmt.Errorf("unexpected script reply of length %d", len(res)))
	}
	return res[0] == 1, time.Unix(res[1], 0)
}

func (rl *RateLimiter) deny(key string, window time.Duration, err error) (bool, time.Time) {
	log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, denying")
	return false, time.Now().Add(window)
}

// AllowPairing spends one of the user's pairing attempts for the current
// minute. perMinute comes from PAIRING_RATE_LIMIT_PER_MIN.
func (rl *RateLimiter) AllowPairing(ctx context.Context, telegramID int64, perMinute int) (bool, time.Time) {
	return rl.CheckLimit(ctx, fmt.Sprintf("pairing:%d", telegramID), perMinute, pairingWindow)
}
