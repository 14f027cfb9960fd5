package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
)

const keyPrefix = "ratelimit:"

// slidingWindowScript keeps one sorted-set member per accepted request scored
// by its time in milliseconds. It returns {allowed, count, oldest}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < limit then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], window)
  count = count + 1
  allowed = 1
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then first = tonumber(oldest[2]) end
return {allowed, count, first}
`)

// Redis shares the window across every instance.
type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

func (s *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()
	raw, err := slidingWindowScript.Run(ctx, s.rdb, []string{keyPrefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, ksuid.New().String(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, raw)
	}

	count := int(raw[1])
	return Result{
		Allowed:   raw[0] == 1,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   time.UnixMilli(raw[2]).Add(window),
	}, nil
}
