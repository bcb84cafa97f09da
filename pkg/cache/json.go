package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GetJSON decodes a cached value into T.
func GetJSON[T any](ctx context.Context, c *Tiered, key string) (T, bool, error) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return out, true, nil
}

// GetStaleJSON decodes the stale copy of key into T.
func GetStaleJSON[T any](ctx context.Context, c *Tiered, key string) (T, bool, error) {
	return GetJSON[T](ctx, c, StaleKey(key))
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c *Tiered, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	c.Set(ctx, key, raw, ttl)
	return nil
}

// SetWithStale stores v under key with ttl and under the stale key with staleTTL.
func SetWithStale(ctx context.Context, c *Tiered, key string, v any, ttl, staleTTL time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	c.Set(ctx, key, raw, ttl)
	c.SetStale(ctx, key, raw, staleTTL)
	return nil
}
