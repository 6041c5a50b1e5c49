package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erasmus-project/esrp/protocol"
)

// RedisCache is a Cache backed by Redis, for servers that need the
// idempotency mapping to survive process restarts or be shared across
// replicas. Keys are namespaced under keyPrefix; writes use SETNX so a
// concurrent duplicate request never clobbers the first cached response.
type RedisCache struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisCache wraps an existing redis client. keyPrefix scopes all keys
// this cache writes (e.g. "esrp:idempotency:") so it can share a Redis
// instance with unrelated data.
func NewRedisCache(client redis.Cmdable, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisCache) redisKey(key string) string {
	return c.keyPrefix + key
}

func (c *RedisCache) Get(ctx context.Context, key string) (*protocol.Response, bool, error) {
	payload, err := c.client.Get(ctx, c.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, protocol.NewError(protocol.ErrBackendUnavailable, "redis get failed").WithCause(err)
	}

	var resp protocol.Response
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, false, protocol.NewError(protocol.ErrMalformedValue, "cached idempotency record is not valid JSON").WithCause(err)
	}
	return &resp, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, resp *protocol.Response, ttl time.Duration) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return protocol.NewError(protocol.ErrMalformedValue, "response is not JSON-marshalable").WithCause(err)
	}

	ok, err := c.client.SetNX(ctx, c.redisKey(key), payload, ttl).Result()
	if err != nil {
		return protocol.NewError(protocol.ErrBackendUnavailable, "redis setnx failed").WithCause(err)
	}
	if !ok {
		// Another writer already cached a response for this key; first
		// writer wins, matching MemoryCache semantics.
		return nil
	}
	return nil
}

// Ping checks connectivity, surfaced so cmd/esrpd can fail fast at startup
// rather than on the first request.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
