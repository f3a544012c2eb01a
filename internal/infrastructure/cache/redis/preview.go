// Package redis stores rendered previews in Redis so API replicas share them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "tomd:preview:"
	DefaultTTL = 10 * time.Minute
)

type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type PreviewCache struct {
	client client
	ttl    time.Duration
	logger *slog.Logger
}

func New(c client, ttl time.Duration, logger *slog.Logger) *PreviewCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PreviewCache{client: c, ttl: ttl, logger: logger}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// Get treats every failure as a miss; the preview is rebuilt from storage.
func (c *PreviewCache) Get(ctx context.Context, jobID string) (*domain.Preview, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+jobID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("preview_cache_get_failed", "job_id", jobID, "error", err)
		}
		return nil, false
	}
	var preview domain.Preview
	if err := json.Unmarshal(raw, &preview); err != nil {
		c.logger.Warn("preview_cache_corrupt", "job_id", jobID, "error", err)
		return nil, false
	}
	return &preview, true
}

func (c *PreviewCache) Set(ctx context.Context, jobID string, preview domain.Preview) error {
	raw, err := json.Marshal(preview)
	if err != nil {
		return fmt.Errorf("marshal preview: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+jobID, raw, c.ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "cache preview", err)
	}
	return nil
}

func (c *PreviewCache) Invalidate(ctx context.Context, jobID string) error {
	if err := c.client.Del(ctx, keyPrefix+jobID).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "invalidate preview", err)
	}
	return nil
}
