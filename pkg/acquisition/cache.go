package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "vision:result:"

// RedisCache stores complete results as JSON under the accession.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, accession string) (*Result, bool, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+accession).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached result: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("decoding cached result: %w", err)
	}
	return &result, true, nil
}

// Set caches complete results only.
func (c *RedisCache) Set(ctx context.Context, result *Result) error {
	if result == nil || result.Outcome != OutcomeComplete {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return c.client.Set(ctx, cacheKeyPrefix+result.Accession, data, c.ttl).Err()
}
