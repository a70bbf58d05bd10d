// Package querycache is the request cache shared by the dashboard pages.
// Reads are keyed by string tuples, fresh for a configurable stale time,
// de-duplicated while in flight and dropped by tuple prefix.
package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"x402-Dashboard/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// separator joins escaped key parts. QueryEscape never emits it, so a prefix
// only matches whole parts.
const separator = ":"

// Key identifies a cached read, e.g. Key{"agents", address}.
type Key []string

func (k Key) String() string {
	return encode(k)
}

func encode(parts []string) string {
	escaped := make([]string, len(parts))
	for i, part := range parts {
		escaped[i] = url.QueryEscape(part)
	}
	return strings.Join(escaped, separator)
}

// Cache wraps a Store with freshness and in-flight de-duplication.
type Cache struct {
	store Store
	stale time.Duration
	group singleflight.Group
	now   func() time.Time
	log   *slog.Logger
}

// New creates a cache. A zero stale time keeps entries until invalidated.
func New(store Store, stale time.Duration) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Cache{
		store: store,
		stale: stale,
		now:   time.Now,
		log:   logger.Named("querycache"),
	}
}

// Fetch returns the fresh cached value for key or runs fn, stores and returns
// its result. Concurrent callers of the same key share one fn call, which is
// not cancelled when one of them gives up. Errors from fn are returned and not
// cached.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	encoded := key.String()

	if entry, ok := c.lookup(ctx, encoded); ok {
		var value T
		if err := json.Unmarshal(entry.Value, &value); err == nil {
			return value, nil
		}
		c.log.Warn("缓存条目无法解码，重新获取", "key", encoded)
	}

	ch := c.group.DoChan(encoded, func() (any, error) {
		// 共享的获取不跟随任何单个调用方取消。
		shared := context.WithoutCancel(ctx)
		value, err := fn(shared)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode cache value: %w", err)
		}
		if err := c.store.Set(shared, encoded, Entry{Value: data, FetchedAt: c.now()}); err != nil {
			c.log.Warn("写入缓存失败", "key", encoded, "error", err)
		}
		return data, nil
	})

	var raw any
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		raw = res.Val
	}

	var value T
	if err := json.Unmarshal(raw.([]byte), &value); err != nil {
		return zero, fmt.Errorf("decode cache value: %w", err)
	}
	return value, nil
}

func (c *Cache) lookup(ctx context.Context, key string) (Entry, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("读取缓存失败", "key", key, "error", err)
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	if c.stale > 0 && c.now().Sub(entry.FetchedAt) >= c.stale {
		return Entry{}, false
	}
	return entry, true
}

// Invalidate drops every entry whose key starts with prefix, so the next
// read re-fetches. An empty prefix clears the cache.
func (c *Cache) Invalidate(ctx context.Context, prefix ...string) error {
	encoded := encode(prefix)
	if err := c.store.DeletePrefix(ctx, encoded); err != nil {
		return fmt.Errorf("invalidate %q: %w", encoded, err)
	}
	c.log.Debug("缓存已失效", "prefix", encoded)
	return nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
