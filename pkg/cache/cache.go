// Package cache provides TTL caches whose keys always carry the snapshot etag,
// so a snapshot change makes every older entry unreachable.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
)

var ErrEmptyEtag = errors.New("cache key requires a snapshot etag")

// Backend stores opaque values under string keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Observer is told about every lookup, e.g. to export hit ratios.
type Observer interface {
	CacheLookup(name string, hit bool)
}

// Cache is a typed view on a backend. Values round-trip through JSON, so every
// reader gets its own copy.
type Cache[V any] struct {
	name     string
	ttl      time.Duration
	backend  Backend
	observer Observer
}

func New[V any](name string, ttl time.Duration, backend Backend, observer Observer) *Cache[V] {
	return &Cache[V]{name: name, ttl: ttl, backend: backend, observer: observer}
}

func (c *Cache[V]) Name() string { return c.name }

// Key renders "<name>:<etag>:<part>:...". Parts are escaped so they cannot collide.
func (c *Cache[V]) Key(etag string, parts ...string) string {
	var b strings.Builder
	b.WriteString(c.name)
	b.WriteByte(':')
	b.WriteString(url.QueryEscape(etag))
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(p))
	}
	return b.String()
}

// Get looks up the entry for etag and parts. Backend errors count as misses.
func (c *Cache[V]) Get(ctx context.Context, etag string, parts ...string) (V, bool) {
	var zero V
	if c == nil || c.backend == nil || etag == "" {
		return zero, false
	}

	key := c.Key(etag, parts...)
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		logger.Warn("Cache read failed", "cache", c.name, "key", key, "err", err)
		ok = false
	}

	var v V
	if ok {
		if err := decode(data, &v); err != nil {
			logger.Warn("Cache entry undecodable", "cache", c.name, "key", key, "err", err)
			ok = false
		}
	}
	if c.observer != nil {
		c.observer.CacheLookup(c.name, ok)
	}
	if !ok {
		return zero, false
	}
	return v, true
}

// decode keeps numbers as json.Number so untyped values re-encode byte for byte.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Put writes v under etag and parts.
func (c *Cache[V]) Put(ctx context.Context, etag string, v V, parts ...string) error {
	if c == nil || c.backend == nil {
		return nil
	}
	if etag == "" {
		return ErrEmptyEtag
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s cache entry: %w", c.name, err)
	}
	return c.backend.Set(ctx, c.Key(etag, parts...), data, c.ttl)
}

// GetOrCompute is read-through: on a miss it calls compute and writes the result
// back, but only when compute observed the same etag the caller keyed on.
func (c *Cache[V]) GetOrCompute(
	ctx context.Context,
	etag string,
	parts []string,
	compute func(context.Context) (V, string, error),
) (V, bool, error) {
	if c == nil {
		v, _, err := compute(ctx)
		return v, false, err
	}
	if v, ok := c.Get(ctx, etag, parts...); ok {
		return v, true, nil
	}

	v, observed, err := compute(ctx)
	if err != nil {
		return v, false, err
	}
	if observed != etag {
		logger.Debug("Skipping cache write for moved snapshot", "cache", c.Name(), "etag", etag, "observed", observed)
		return v, false, nil
	}
	if err := c.Put(ctx, etag, v, parts...); err != nil {
		logger.Warn("Cache write failed", "cache", c.Name(), "err", err)
	}
	return v, false, nil
}
