package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"healthcred/internal/mapper"
)

const redisMapperKeyPrefix = "mapper:"

// RedisCache fronts another store with a Redis read-through cache so that
// every process shares one copy of each mapper until the TTL lapses.
type RedisCache struct {
	client  redis.Cmdable
	backing mapper.Store
	ttl     time.Duration
	logger  *slog.Logger
}

// NewRedisCache wraps backing. Cache failures fall through to backing.
func NewRedisCache(client redis.Cmdable, backing mapper.Store, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, backing: backing, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, name string) (*mapper.Mapper, error) {
	data, err := c.client.Get(ctx, mapperKey(name)).Bytes()
	switch {
	case err == nil:
		var m mapper.Mapper
		if err := json.Unmarshal(data, &m); err == nil {
			return &m, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable cached mapper", "mapper", name)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "mapper cache read failed", "mapper", name, "error", err)
	}

	m, err := c.backing.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	c.save(ctx, m)
	return m, nil
}

func (c *RedisCache) Put(ctx context.Context, m *mapper.Mapper) error {
	if err := c.backing.Put(ctx, m); err != nil {
		return err
	}
	return c.Invalidate(ctx, m.Name)
}

// Invalidate evicts name from the shared cache.
func (c *RedisCache) Invalidate(ctx context.Context, name string) error {
	if err := c.client.Del(ctx, mapperKey(name)).Err(); err != nil {
		return fmt.Errorf("evict mapper %s: %w", name, err)
	}
	return nil
}

func (c *RedisCache) save(ctx context.Context, m *mapper.Mapper) {
	payload, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, mapperKey(m.Name), payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "mapper cache write failed", "mapper", m.Name, "error", err)
	}
}

func mapperKey(name string) string {
	return redisMapperKeyPrefix + name
}
