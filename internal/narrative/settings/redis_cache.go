package settings

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"fabula/internal/narrative"
)

// RedisConfig configures the optional Redis-backed tier cache.
type RedisConfig struct {
	Enabled               bool
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// RedisCache is a Redis-backed secondary cache for DirectiveSettings, keyed
// by tier ID. All methods are nil-safe: a nil *RedisCache behaves as an
// always-miss cache so callers never need to branch on whether Redis is
// configured.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *logrus.Entry
}

// NewRedisCache constructs a Redis-backed settings cache. Returns nil, nil
// when cfg.Enabled is false.
func NewRedisCache(cfg RedisConfig, ttl time.Duration) (*RedisCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis settings cache ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, log: logrus.NewEntry(logrus.StandardLogger())}, nil
}

func (c *RedisCache) key(tierID string) string { return "narrative:settings:" + tierID }

// Get retrieves cached DirectiveSettings for tierID.
func (c *RedisCache) Get(ctx context.Context, tierID string) (narrative.DirectiveSettings, bool) {
	if c == nil || c.client == nil {
		return narrative.DirectiveSettings{}, false
	}
	val, err := c.client.Get(ctx, c.key(tierID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).WithField("tier", tierID).Debug("settings: redis cache get error")
		}
		return narrative.DirectiveSettings{}, false
	}
	var s narrative.DirectiveSettings
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		c.log.WithError(err).WithField("tier", tierID).Debug("settings: redis cache decode error")
		return narrative.DirectiveSettings{}, false
	}
	return s, true
}

// Set caches DirectiveSettings for tierID.
func (c *RedisCache) Set(ctx context.Context, tierID string, s narrative.DirectiveSettings) {
	if c == nil || c.client == nil {
		return
	}
	enc, err := json.Marshal(s)
	if err != nil {
		c.log.WithError(err).WithField("tier", tierID).Debug("settings: redis cache encode error")
		return
	}
	if err := c.client.Set(ctx, c.key(tierID), enc, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("tier", tierID).Debug("settings: redis cache set error")
	}
}

// Invalidate removes tierID from the Redis cache.
func (c *RedisCache) Invalidate(ctx context.Context, tierID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(tierID)).Err(); err != nil {
		c.log.WithError(err).WithField("tier", tierID).Debug("settings: redis cache invalidate error")
	}
}
