package apicache

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// KeyFunc derives a cache key from the arguments of a memoized call.
type KeyFunc func(args ...any) string

// CachedOption configures a Cached wrapper.
type CachedOption func(*cachedOptions)

type cachedOptions struct {
	keyFn KeyFunc
	ttl   time.Duration
}

// WithKeyFunc replaces the default key derivation with fn.
func WithKeyFunc(fn KeyFunc) CachedOption {
	return func(o *cachedOptions) { o.keyFn = fn }
}

// WithTTL overrides the cache-wide default lifetime for memoized results.
func WithTTL(ttl time.Duration) CachedOption {
	return func(o *cachedOptions) { o.ttl = ttl }
}

// Cached wraps fn so its results are memoized in c. While a previous result
// for the same key is live, fn is not invoked at all: no side effects, no
// cost. Results are cached only when fn returns a nil error, so a failed
// call is retried on the next invocation.
//
// Keys default to DefaultKey(name, args...); pass WithKeyFunc to compute
// them differently.
func Cached[V any](c Cache, name string, fn func(args ...any) (V, error), opts ...CachedOption) func(args ...any) (V, error) {
	var o cachedOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(args ...any) (V, error) {
		var key string
		if o.keyFn != nil {
			key = o.keyFn(args...)
		} else {
			key = DefaultKey(name, args...)
		}

		if raw, ok := c.Get(key); ok {
			if value, ok := coerce[V](raw); ok {
				return value, nil
			}
		}

		value, err := fn(args...)
		if err != nil {
			return value, err
		}
		c.Set(key, value, o.ttl)
		return value, nil
	}
}

// DefaultKey builds a memoization key by joining the call name and the
// string form of every argument with ":". An argument of type
// map[string]any is rendered as "name=value" pairs sorted by name, the
// rendering used for named arguments.
func DefaultKey(name string, args ...any) string {
	parts := []string{name}
	for _, arg := range args {
		if named, ok := arg.(map[string]any); ok {
			for _, k := range slices.Sorted(maps.Keys(named)) {
				parts = append(parts, fmt.Sprintf("%s=%v", k, named[k]))
			}
			continue
		}
		parts = append(parts, fmt.Sprint(arg))
	}
	return strings.Join(parts, ":")
}

// coerce converts a cached value back to V. Memory-backed values assert
// directly; values decoded from disk JSON come back as generic JSON types
// and are re-shaped into V through a JSON round trip.
func coerce[V any](raw any) (V, bool) {
	if value, ok := raw.(V); ok {
		return value, true
	}

	var value V
	encoded, err := json.Marshal(raw)
	if err != nil {
		return value, false
	}
	if err := json.Unmarshal(encoded, &value); err != nil {
		return value, false
	}
	return value, true
}
