package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps resolved names in Redis under catalog:<kind>:<uuid>.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(kind Kind, id string) string {
	return "catalog:" + string(kind) + ":" + id
}

// Lookup returns cached names and the UUIDs that missed.
func (c *Cache) Lookup(ctx context.Context, kind Kind, uuids []string) (map[string]string, []string, error) {
	if c == nil || c.client == nil || len(uuids) == 0 {
		return map[string]string{}, uuids, nil
	}
	keys := make([]string, len(uuids))
	for i, id := range uuids {
		keys[i] = cacheKey(kind, id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, err
	}
	hits := make(map[string]string, len(uuids))
	var missing []string
	for i, id := range uuids {
		if i < len(values) {
			if name, ok := values[i].(string); ok {
				hits[id] = name
				continue
			}
		}
		missing = append(missing, id)
	}
	return hits, missing, nil
}

// Store writes names with the configured TTL.
func (c *Cache) Store(ctx context.Context, kind Kind, names map[string]string) error {
	if c == nil || c.client == nil || len(names) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, name := range names {
			pipe.Set(ctx, cacheKey(kind, id), name, c.ttl)
		}
		return nil
	})
	return err
}
