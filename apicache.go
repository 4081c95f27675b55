package apicache

import (
	"fmt"
	"time"

	gap "github.com/muesli/go-app-paths"
)

// Cache is the contract implemented by both backends.
//
// All data-dependent failures (missing keys, expired entries, corrupted
// files, I/O errors) are downgraded to a miss or a false return; a memoized
// caller degrades to "always recompute", never to a panic. The only error a
// caller can receive is ErrUnknownStorage from New.
type Cache interface {
	// Set stores value under key. A ttl <= 0 means the cache-wide default.
	// It reports whether the value was stored; on failure the previous
	// entry for key, if any, is left intact.
	Set(key string, value any, ttl time.Duration) bool

	// Get returns the live value for key. The second return is false when
	// the key is absent, expired or unreadable.
	Get(key string) (any, bool)

	// Has reports whether a live entry exists for key. As a side effect it
	// removes an entry it discovers to be expired or corrupted.
	Has(key string) bool

	// Delete removes the entry for key, reporting whether anything was
	// removed.
	Delete(key string) bool

	// Clear removes every entry owned by this cache instance.
	Clear() bool

	// InvalidateByPrefix removes every entry whose original key starts
	// with prefix and returns the number removed.
	InvalidateByPrefix(prefix string) int

	// Entries returns a snapshot of the stored entries, possibly including
	// expired ones that have not been swept yet.
	Entries() []EntryInfo

	// Stats returns the instance's performance counters.
	Stats() Stats
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*DiskCache)(nil)
)

// New creates a cache backend for cfg.Storage. It is the only constructor
// that can fail on misconfiguration: an unrecognized storage type yields
// ErrUnknownStorage.
func New(cfg Config) (Cache, error) {
	switch cfg.Storage {
	case StorageMemory, "":
		return NewMemoryCache(cfg), nil
	case StorageDisk:
		return NewDiskCache(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, cfg.Storage)
	}
}

// defaultCacheDir returns the per-user cache directory for the application.
func defaultCacheDir() (string, error) {
	scope := gap.NewScope(gap.User, "coordinates-lit")
	dir, err := scope.CacheDir()
	if err != nil {
		return "", fmt.Errorf("unable to resolve user cache directory: %w", err)
	}
	return dir, nil
}
