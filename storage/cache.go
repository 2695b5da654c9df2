package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"carflow/models"
	"carflow/utils"
)

const (
	cacheKeyPrefix     = "carflow:catalog"
	cacheGenerationKey = cacheKeyPrefix + ":gen"
)

// RedisCache is a read-through cache in front of a CatalogReader. Entries are
// namespaced by a generation counter; Invalidate bumps the counter so a
// finished aggregation run makes every cached list stale at once. Redis
// failures are logged and the call falls through to the wrapped reader.
type RedisCache struct {
	rdb    *goredis.Client
	next   CatalogReader
	ttl    time.Duration
	logger *utils.Logger
}

// NewRedisCache connects to addr and wraps next.
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration, next CatalogReader, logger *utils.Logger) (*RedisCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{rdb: rdb, next: next, ttl: ttl, logger: logger}, nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Invalidate drops every cached list.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, cacheGenerationKey).Err(); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

func (c *RedisCache) ListBrands(ctx context.Context) ([]*models.Brand, error) {
	return cached(ctx, c, "brands", func() ([]*models.Brand, error) {
		return c.next.ListBrands(ctx)
	})
}

func (c *RedisCache) ListModels(ctx context.Context, brandID int64) ([]*models.Model, error) {
	return cached(ctx, c, "models:"+strconv.FormatInt(brandID, 10), func() ([]*models.Model, error) {
		return c.next.ListModels(ctx, brandID)
	})
}

func (c *RedisCache) ListYears(ctx context.Context, modelID int64) ([]int, error) {
	return cached(ctx, c, "years:"+strconv.FormatInt(modelID, 10), func() ([]int, error) {
		return c.next.ListYears(ctx, modelID)
	})
}

func (c *RedisCache) ListRegions(ctx context.Context) ([]string, error) {
	return cached(ctx, c, "regions", func() ([]string, error) {
		return c.next.ListRegions(ctx)
	})
}

func (c *RedisCache) key(ctx context.Context, name string) (string, error) {
	gen, err := c.rdb.Get(ctx, cacheGenerationKey).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return "", err
	}
	return fmt.Sprintf("%s:v%d:%s", cacheKeyPrefix, gen, name), nil
}

func cached[T any](ctx context.Context, c *RedisCache, name string, load func() (T, error)) (T, error) {
	key, err := c.key(ctx, name)
	if err != nil {
		c.logger.Warn("[cache] generation lookup failed, bypassing cache: %v", err)
		return load()
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out T
		if jerr := json.Unmarshal(raw, &out); jerr == nil {
			return out, nil
		}
		c.logger.Warn("[cache] dropping undecodable entry %s", key)
	case !errors.Is(err, goredis.Nil):
		c.logger.Warn("[cache] get %s failed: %v", key, err)
	}

	out, err := load()
	if err != nil {
		return out, err
	}
	if payload, jerr := json.Marshal(out); jerr == nil {
		if serr := c.rdb.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
			c.logger.Warn("[cache] set %s failed: %v", key, serr)
		}
	}
	return out, nil
}
