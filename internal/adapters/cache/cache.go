// Package cache fronts recommendation reads with a Redis cache-aside layer.
// A Cache without a client is valid and treats every read as a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/pkg/logger"
	"github.com/dwellhq/dwell/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how stale a cached recommendation list can be.
	DefaultTTL = 5 * time.Minute

	keyPrefix   = "dwell:recs"
	pingTimeout = 3 * time.Second
	scanCount   = 100
)

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// Cache stores top recommendation lists per (user, limit).
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log logger.Logger
}

// New connects to redisURL. An empty URL, a bad URL or a failed ping yields
// a disabled cache rather than an error.
func New(ctx context.Context, redisURL string, opts ...Option) *Cache {
	c := newCache(nil, opts...)
	if redisURL == "" {
		c.log.Info(ctx, "no redis url configured, caching disabled")
		return c
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		c.log.Warn(ctx, "invalid redis url, caching disabled", logger.Error(err))
		return c
	}
	rdb := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		c.log.Warn(ctx, "redis connection failed, caching disabled", logger.Error(err))
		_ = rdb.Close()
		return c
	}

	c.log.Info(ctx, "redis connected, caching enabled", logger.Duration("ttl", c.ttl))
	c.rdb = rdb
	return c
}

// NewWithClient wraps an existing client. A nil client disables caching.
func NewWithClient(rdb *redis.Client, opts ...Option) *Cache {
	return newCache(rdb, opts...)
}

func newCache(rdb *redis.Client, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named("cache")
	}
	return c
}

// Enabled reports whether a Redis client is attached.
func (c *Cache) Enabled() bool {
	return c.rdb != nil
}

// Client returns the underlying client for health checks. It may be nil.
func (c *Cache) Client() *redis.Client {
	return c.rdb
}

// Ping checks Redis. A disabled cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Get returns the cached list and whether it was present.
func (c *Cache) Get(ctx context.Context, userID string, limit int) ([]model.Recommendation, bool, error) {
	if c.rdb == nil {
		return nil, false, nil
	}
	data, err := c.rdb.Get(ctx, recommendationsKey(userID, limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheMiss()
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordCacheMiss()
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var recs []model.Recommendation
	if err := json.Unmarshal(data, &recs); err != nil {
		metrics.RecordCacheMiss()
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	metrics.RecordCacheHit()
	return recs, true, nil
}

// Set stores recs for (userID, limit).
func (c *Cache) Set(ctx context.Context, userID string, limit int, recs []model.Recommendation) error {
	if c.rdb == nil {
		return nil
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	return c.rdb.Set(ctx, recommendationsKey(userID, limit), b, c.ttl).Err()
}

// Invalidate drops every cached list of userID, whatever the limit.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if c.rdb == nil {
		return nil
	}
	var keys []string
	iter := c.rdb.Scan(ctx, 0, userPattern(userID), scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Close shuts down the client.
func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// keyUserID encodes userID for use as one key segment. The encoding leaves
// no ':' and no SCAN glob metacharacters (* ? [ ] \), so a user's pattern
// never matches another user's keys.
func keyUserID(userID string) string {
	return url.QueryEscape(userID)
}

func recommendationsKey(userID string, limit int) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, keyUserID(userID), limit)
}

func userPattern(userID string) string {
	return fmt.Sprintf("%s:%s:*", keyPrefix, keyUserID(userID))
}
