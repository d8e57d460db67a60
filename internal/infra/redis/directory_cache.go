package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
)

const (
	// DirectoryTTL bounds how long a resolution survives a missed invalidation
	DirectoryTTL = 10 * time.Minute

	// DirectoryPrefix is the prefix for directory cache keys
	DirectoryPrefix = "dircache:"
)

// DirectoryCache is a Redis-backed cache of positive pocket resolutions
type DirectoryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewDirectoryCache creates a new directory cache
func NewDirectoryCache(client *redis.Client, logger *slog.Logger) *DirectoryCache {
	return NewDirectoryCacheWithTTL(client, DirectoryTTL, logger)
}

// NewDirectoryCacheWithTTL creates a new directory cache with custom TTL
func NewDirectoryCacheWithTTL(client *redis.Client, ttl time.Duration, logger *slog.Logger) *DirectoryCache {
	return &DirectoryCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "directory_cache"),
	}
}

var _ pocket.Cache = (*DirectoryCache)(nil)

// Get returns a cached pocket id
func (c *DirectoryCache) Get(ctx context.Context, key string) (uuid.UUID, bool, error) {
	val, err := c.client.Get(ctx, DirectoryPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to get cached resolution: %w", err)
	}

	id, err := uuid.Parse(val)
	if err != nil {
		// Corrupt entry, drop it and report a miss
		c.client.Del(ctx, DirectoryPrefix+key)
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

// Set caches a resolution
func (c *DirectoryCache) Set(ctx context.Context, key string, pocketID uuid.UUID) error {
	if err := c.client.Set(ctx, DirectoryPrefix+key, pocketID.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache resolution: %w", err)
	}
	return nil
}

// InvalidateProfile removes every cached resolution of a profile
func (c *DirectoryCache) InvalidateProfile(ctx context.Context, profile string) error {
	pattern := fmt.Sprintf("%s%s:*", DirectoryPrefix, profile)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()

	pipe := c.client.Pipeline()
	count := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++
		if count >= 100 {
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("failed to invalidate directory cache: %w", err)
			}
			pipe = c.client.Pipeline()
			count = 0
		}
	}

	if count > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to invalidate directory cache: %w", err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan directory cache: %w", err)
	}

	c.logger.Debug("directory cache invalidated", "profile", profile, "pattern", pattern)
	return nil
}
