// Package cache memoizes feed search responses in Redis so repeated
// lookups for the same postal code and query do not hammer the
// upstream feed. The cache is optional: a nil *Cache is a no-op.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to Redis at the given URL. An empty URL disables
// caching and returns nil. Connection failures also degrade to nil
// rather than failing startup.
func New(ctx context.Context, redisURL string, ttl time.Duration, logger zerolog.Logger) *Cache {
	if strings.TrimSpace(redisURL) == "" {
		logger.Info().Msg("redis not configured; search caching disabled")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid redis URL; search caching disabled")
		return nil
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable; search caching disabled")
		_ = client.Close()
		return nil
	}

	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	logger.Info().Dur("ttl", ttl).Msg("search cache enabled")
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func searchKey(areaCode, query string) string {
	return fmt.Sprintf("search:%s:%s", strings.ToUpper(areaCode), strings.ToLower(strings.TrimSpace(query)))
}

// GetSearch loads a cached search response into dest. Returns false on
// miss or any decode problem.
func (c *Cache) GetSearch(ctx context.Context, areaCode, query string, dest any) bool {
	if c == nil {
		return false
	}

	raw, err := c.client.Get(ctx, searchKey(areaCode, query)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn().Err(err).Msg("cache entry corrupt; ignoring")
		return false
	}
	return true
}

// SetSearch stores a search response. Failures are logged and
// swallowed; the cache never breaks the request path.
func (c *Cache) SetSearch(ctx context.Context, areaCode, query string, value any) {
	if c == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, searchKey(areaCode, query), raw, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache write failed")
	}
}

// InvalidateArea drops every cached search for a postal code, used
// after a refresh lands new deals.
func (c *Cache) InvalidateArea(ctx context.Context, areaCode string) {
	if c == nil {
		return
	}

	pattern := fmt.Sprintf("search:%s:*", strings.ToUpper(areaCode))
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("cache invalidation failed")
		}
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
