package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cargolink/internal/sentinel"
)

// DefaultRedisPrefix namespaces cache keys in a shared Redis.
const DefaultRedisPrefix = "cargolink:cache:"

// Redis stores entries as JSON with a Redis TTL covering the stale grace.
// Each tier keeps a set of its keys for pattern invalidation.
type Redis struct {
	client redis.Cmdable
	prefix string
}

// NewRedis wraps a go-redis client.
func NewRedis(client redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) entryKey(tier, key string) string {
	return r.prefix + "entry:" + tier + ":" + key
}

func (r *Redis) indexKey(tier string) string {
	return r.prefix + "index:" + tier
}

// Get returns the entry for key in tier or sentinel.ErrNotFound.
func (r *Redis) Get(ctx context.Context, tier, key string) (Entry, error) {
	raw, err := r.client.Get(ctx, r.entryKey(tier, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	return e, nil
}

// Set writes the entry with TTL retain and adds it to the tier index in one
// MULTI/EXEC.
func (r *Redis) Set(ctx context.Context, e Entry, retain time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	idx := r.indexKey(e.Tier)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.entryKey(e.Tier, e.Key), raw, retain)
		pipe.SAdd(ctx, idx, e.Key)
		pipe.Expire(ctx, idx, retain)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Keys lists the keys of tier that still have an entry. Index members whose
// entry expired are removed from the index on the way.
func (r *Redis) Keys(ctx context.Context, tier string) ([]string, error) {
	idx := r.indexKey(tier)
	members, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	if len(members) == 0 {
		return members, nil
	}

	exists := make([]*redis.IntCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range members {
			exists[i] = pipe.Exists(ctx, r.entryKey(tier, k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis exists: %w", err)
	}

	live := make([]string, 0, len(members))
	var dead []any
	for i, k := range members {
		if exists[i].Val() > 0 {
			live = append(live, k)
		} else {
			dead = append(dead, k)
		}
	}
	if len(dead) > 0 {
		if err := r.client.SRem(ctx, idx, dead...).Err(); err != nil {
			return nil, fmt.Errorf("redis srem: %w", err)
		}
	}
	return live, nil
}

// Delete removes keys and their index records.
func (r *Redis) Delete(ctx context.Context, tier string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	entryKeys := make([]string, len(keys))
	members := make([]any, len(keys))
	for i, k := range keys {
		entryKeys[i] = r.entryKey(tier, k)
		members[i] = k
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, entryKeys...)
		pipe.SRem(ctx, r.indexKey(tier), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}
