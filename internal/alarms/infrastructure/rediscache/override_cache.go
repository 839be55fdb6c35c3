// Package rediscache holds the Redis-backed pieces of the alarm engine.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	alarms "frostguard/internal/alarms/domain"
	"frostguard/internal/observability/metrics"
)

const (
	defaultKeyPrefix = "frostguard:overrides:"
	defaultTTL       = 5 * time.Minute
	scanCount        = 100
)

// OverrideCache is a read-through cache in front of an OverrideRepository.
// Redis failures fall back to the repository.
type OverrideCache struct {
	client *redis.Client
	source alarms.OverrideRepository
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// Option configures the cache.
type Option func(*OverrideCache)

// WithTTL sets the entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *OverrideCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *OverrideCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *OverrideCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOverrideCache constructs a cache.
func NewOverrideCache(client *redis.Client, source alarms.OverrideRepository, opts ...Option) (*OverrideCache, error) {
	if client == nil {
		return nil, errors.New("override cache: nil redis client")
	}
	if source == nil {
		return nil, errors.New("override cache: nil source")
	}
	c := &OverrideCache{
		client: client,
		source: source,
		prefix: defaultKeyPrefix,
		ttl:    defaultTTL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *OverrideCache) key(orgID, siteID, unitID string) string {
	return c.prefix + orgID + ":" + siteID + ":" + unitID
}

// ListForScopes returns cached overrides or loads and caches them.
func (c *OverrideCache) ListForScopes(ctx context.Context, orgID, siteID, unitID string) ([]alarms.Override, error) {
	key := c.key(orgID, siteID, unitID)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []alarms.Override
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			metrics.IncConfigCache("overrides", true)
			return cached, nil
		}
		c.logger.Warn("override cache entry corrupt", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("override cache read failed", zap.String("key", key), zap.Error(err))
	}
	metrics.IncConfigCache("overrides", false)

	overrides, err := c.source.ListForScopes(ctx, orgID, siteID, unitID)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(overrides)
	if err != nil {
		return overrides, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("override cache write failed", zap.String("key", key), zap.Error(err))
	}
	return overrides, nil
}

// Upsert writes through to the repository and drops every cached entry the
// override's scope can affect.
func (c *OverrideCache) Upsert(ctx context.Context, override *alarms.Override) error {
	if err := c.source.Upsert(ctx, override); err != nil {
		return err
	}
	var pattern string
	switch override.Scope {
	case alarms.ScopeOrg:
		pattern = c.prefix + override.ScopeID + ":*"
	case alarms.ScopeSite:
		pattern = c.prefix + "*:" + override.ScopeID + ":*"
	default:
		pattern = c.prefix + "*:*:" + override.ScopeID
	}
	if err := c.invalidate(ctx, pattern); err != nil {
		c.logger.Warn("override cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		return fmt.Errorf("override cache: invalidate %s: %w", pattern, err)
	}
	return nil
}

func (c *OverrideCache) invalidate(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
