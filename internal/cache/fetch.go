package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Fetch is Get for JSON-encodable values.
func Fetch[T any](ctx context.Context, c *Cache, tier Tier, key string, load func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	res, err := c.Get(ctx, tier, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, false, err
	}

	var out T
	if err := json.Unmarshal(res.Value, &out); err != nil {
		return zero, false, fmt.Errorf("decode cached %s value %q: %w", tier, key, err)
	}
	return out, res.Stale, nil
}
