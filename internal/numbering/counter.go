package numbering

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "numbering:"

// RedisCounter uses INCR, atomic across every instance sharing the Redis.
type RedisCounter struct {
	rdb redis.UniversalClient
}

func NewRedisCounter(rdb redis.UniversalClient) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Next(ctx context.Context, series string) (int64, error) {
	n, err := c.rdb.Incr(ctx, keyPrefix+series).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", series, err)
	}
	return n, nil
}

// reseedScript raises the key to ARGV[1] without ever lowering it.
var reseedScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
  redis.call('SET', KEYS[1], floor)
  return floor
end
return current
`)

func (c *RedisCounter) Reseed(ctx context.Context, series string, floor int64) error {
	if err := reseedScript.Run(ctx, c.rdb, []string{keyPrefix + series}, floor).Err(); err != nil {
		return fmt.Errorf("reseed %s: %w", series, err)
	}
	return nil
}

// MemoryCounter is the single-process fallback when Redis is not configured.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

func (c *MemoryCounter) Next(_ context.Context, series string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[series]++
	return c.values[series], nil
}

func (c *MemoryCounter) Reseed(_ context.Context, series string, floor int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values[series] < floor {
		c.values[series] = floor
	}
	return nil
}
