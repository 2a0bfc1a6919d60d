// Package cache memoizes upstream results for a fixed time-to-live per operation class.
//
// Failed producers are never stored, so transient upstream errors are retried on the next call.
// Concurrent misses for the same key are coalesced through singleflight, but nothing relies on
// exactly-once fetching: correctness only needs the cache to converge.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
)

// TTLs per operation class.
const (
	TTLLatest  = 5 * time.Minute // latest-rate snapshot
	TTLCatalog = 24 * time.Hour  // currency catalog
	TTLSeries  = time.Hour       // historical series
)

// DefaultFetchTimeout bounds a shared producer call once it is detached from its callers.
const DefaultFetchTimeout = 2 * time.Minute

// Key identifies a cached result by operation name and parameters
type Key struct {
	Operation string
	Params    string
}

// NewKey builds a key from an operation name and its parameters.
func NewKey(operation string, params ...string) Key {
	return Key{Operation: operation, Params: strings.Join(params, ":")}
}

func (k Key) String() string {
	if k.Params == "" {
		return k.Operation
	}
	return k.Operation + ":" + k.Params
}

// Entry is an immutable cached value
type Entry struct {
	Value     interface{}
	ExpiresAt time.Time
}

type Cache struct {
	now          func() time.Time
	fetchTimeout time.Duration

	mu      sync.RWMutex
	entries map[Key]Entry

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithFetchTimeout sets the deadline of a shared producer call. Non-positive values are ignored.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		if timeout > 0 {
			c.fetchTimeout = timeout
		}
	}
}

func New(options ...Option) *Cache {
	c := &Cache{
		now:          time.Now,
		fetchTimeout: DefaultFetchTimeout,
		entries:      make(map[Key]Entry),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// GetOrFetch returns the cached value for key while now < expiresAt. Otherwise it calls producer and,
// on success only, stores the result until now + ttl.
//
// The producer runs detached from ctx, bounded by the cache's fetch timeout, and is shared by every
// caller missing the same key. A caller whose ctx ends stops waiting with ctx's error; the shared
// fetch carries on for the others.
func GetOrFetch[T any](ctx context.Context, c *Cache, key Key, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	var zero T
	if value, ok := c.lookup(key); ok {
		if typed, ok := value.(T); ok {
			return typed, nil
		}
	}

	results := c.group.DoChan(key.String(), func() (interface{}, error) {
		if value, ok := c.lookup(key); ok {
			if typed, ok := value.(T); ok {
				return typed, nil
			}
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		value, err := producer(fetchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && apperrors.KindOf(err) == apperrors.KindUnknown {
				err = apperrors.New(apperrors.KindUpstreamUnavailable, "cache."+key.Operation, "fetch timed out", err)
			}
			return nil, err
		}
		c.store(key, value, ttl)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return zero, result.Err
		}
		return result.Val.(T), nil
	}
}

func (c *Cache) lookup(key Key) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.ExpiresAt) {
		return nil, false
	}
	return entry.Value, true
}

func (c *Cache) store(key Key, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{Value: value, ExpiresAt: c.now().Add(ttl)}
}

// ExpiresAt reports when the entry for key expires, if one is stored.
func (c *Cache) ExpiresAt(key Key) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	return entry.ExpiresAt, ok
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Purge drops expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
