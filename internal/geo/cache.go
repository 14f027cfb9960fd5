package geo

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	id "togoretrouve/pkg/domain"
)

const cachePrefix = "geo:"

// Cached is a read-through Redis cache in front of a Store. Reference data
// changes rarely, so entries live for ttl and writes drop the affected keys.
// Redis errors fall back to the underlying store.
type Cached struct {
	Store
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(store Store, rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{Store: store, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *Cached) ListRegions(ctx context.Context) ([]Region, error) {
	return readThrough(ctx, c, cachePrefix+"regions", func() ([]Region, error) {
		return c.Store.ListRegions(ctx)
	})
}

func (c *Cached) ListPrefectures(ctx context.Context, regionID id.RegionID) ([]Prefecture, error) {
	return readThrough(ctx, c, cachePrefix+"prefectures:"+regionID.String(), func() ([]Prefecture, error) {
		return c.Store.ListPrefectures(ctx, regionID)
	})
}

func (c *Cached) ListStructures(ctx context.Context, prefectureID id.PrefectureID) ([]Structure, error) {
	return readThrough(ctx, c, cachePrefix+"structures:"+prefectureID.String(), func() ([]Structure, error) {
		return c.Store.ListStructures(ctx, prefectureID)
	})
}

func (c *Cached) GetStructure(ctx context.Context, structureID id.StructureID) (*Structure, error) {
	return readThrough(ctx, c, cachePrefix+"structure:"+structureID.String(), func() (*Structure, error) {
		return c.Store.GetStructure(ctx, structureID)
	})
}

func (c *Cached) CreateStructure(ctx context.Context, st *Structure) error {
	if err := c.Store.CreateStructure(ctx, st); err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, cachePrefix+"structures:"+st.PrefectureID.String()).Err(); err != nil {
		c.logger.WarnContext(ctx, "geo cache invalidation failed", "error", err)
	}
	return nil
}

func readThrough[T any](ctx context.Context, c *Cached, key string, load func() (T, error)) (T, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var cached T
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "geo cache read failed", "key", key, "error", err)
	}

	value, err := load()
	if err != nil {
		return value, err
	}
	if encoded, err := json.Marshal(value); err == nil {
		if err := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "geo cache write failed", "key", key, "error", err)
		}
	}
	return value, nil
}
