// Package cache memoizes cleaned page text in redis so that classification
// and selector discovery hitting the same URL within one window do not pay
// for a second render. The cache is optional; a nil *PageText is a no-op.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PageText caches cleaned page markup keyed by URL.
type PageText struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPageText connects to redis at the given URL. An empty URL disables the
// cache and returns nil, which every method tolerates.
func NewPageText(redisURL string, ttl time.Duration) (*PageText, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &PageText{rdb: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *PageText) Get(ctx context.Context, url string) (string, bool) {
	if c == nil {
		return "", false
	}
	val, err := c.rdb.Get(ctx, key(url)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *PageText) Set(ctx context.Context, url, text string) {
	if c == nil {
		return
	}
	// Cache errors are ignored; the cache is an optimization only.
	c.rdb.Set(ctx, key(url), text, c.ttl)
}

func (c *PageText) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

func key(url string) string {
	return "rentwatch:pagetext:" + url
}
