package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scoped is a JSON value cache partitioned by scope (one scope per tenant).
// Invalidate bumps the scope's generation counter, so every entry written
// under the old generation stops being read and ages out through its TTL.
type Scoped[T any] struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Open parses a redis:// URL, pings the server and returns the client.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewScoped[T any](client *redis.Client, prefix string, ttl time.Duration) *Scoped[T] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Scoped[T]{client: client, ttl: ttl, prefix: prefix}
}

func (c *Scoped[T]) genKey(scope string) string {
	return fmt.Sprintf("%s:gen:%s", c.prefix, scope)
}

func (c *Scoped[T]) entryKey(scope string, gen int64, key string) string {
	return fmt.Sprintf("%s:%s:%d:%s", c.prefix, scope, gen, key)
}

func (c *Scoped[T]) generation(ctx context.Context, scope string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns the entry for key together with the scope generation it was
// looked up under. On a miss the caller loads the value and hands that same
// generation to Set, so a value loaded across an Invalidate is never served.
func (c *Scoped[T]) Get(ctx context.Context, scope, key string) (*T, int64, bool, error) {
	gen, err := c.generation(ctx, scope)
	if err != nil {
		return nil, 0, false, fmt.Errorf("read cache generation: %w", err)
	}
	raw, err := c.client.Get(ctx, c.entryKey(scope, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("read cache entry: %w", err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, gen, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return &v, gen, true, nil
}

// Set stores v under generation gen. A gen older than the scope's current
// generation lands on a key no reader looks up and simply expires.
func (c *Scoped[T]) Set(ctx context.Context, scope, key string, gen int64, v *T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.client.Set(ctx, c.entryKey(scope, gen, key), raw, c.ttl).Err()
}

func (c *Scoped[T]) Invalidate(ctx context.Context, scope string) error {
	return c.client.Incr(ctx, c.genKey(scope)).Err()
}

// Ping lets the cache take part in dependency health checks.
func (c *Scoped[T]) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
