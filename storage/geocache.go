package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"listing-sync/models"
)

const geocachePrefix = "geocode:"

// RedisGeoCache keeps geocoding answers in Redis so repeated runs do not
// spend API quota on addresses already resolved.
type RedisGeoCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGeoCache wraps client. A ttl of zero keeps entries forever.
func NewRedisGeoCache(client *redis.Client, ttl time.Duration) *RedisGeoCache {
	return &RedisGeoCache{client: client, ttl: ttl}
}

// GetCoords returns the cached coordinates for key, if any.
func (c *RedisGeoCache) GetCoords(ctx context.Context, key string) (models.Coords, bool, error) {
	raw, err := c.client.Get(ctx, geocachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Coords{}, false, nil
	}
	if err != nil {
		return models.Coords{}, false, fmt.Errorf("geocache: get: %w", err)
	}
	var coords models.Coords
	if err := json.Unmarshal(raw, &coords); err != nil {
		return models.Coords{}, false, fmt.Errorf("geocache: decode %q: %w", key, err)
	}
	return coords, true, nil
}

// PutCoords stores coords under key.
func (c *RedisGeoCache) PutCoords(ctx context.Context, key string, coords models.Coords) error {
	raw, err := json.Marshal(coords)
	if err != nil {
		return fmt.Errorf("geocache: encode: %w", err)
	}
	if err := c.client.Set(ctx, geocachePrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("geocache: set: %w", err)
	}
	return nil
}
