package apicache

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Common errors for cache construction
var (
	// ErrUnknownStorage is returned by New for a storage type that is
	// neither StorageMemory nor StorageDisk.
	ErrUnknownStorage = errors.New("unknown cache storage type")
)

// StorageType selects a cache backend.
type StorageType string

const (
	// StorageMemory selects the bounded in-process backend.
	StorageMemory StorageType = "memory"

	// StorageDisk selects the disk-persisted backend.
	StorageDisk StorageType = "disk"
)

// Defaults applied by the constructors when the corresponding Config field
// is zero.
const (
	DefaultTTL     = time.Hour
	DefaultMaxSize = 1000
)

// Config holds configuration for cache instances. The zero value is usable:
// missing fields fall back to the defaults above, and an empty Dir resolves
// to a per-user cache directory.
type Config struct {
	// TTL is the default lifetime of an entry. Individual Set calls may
	// override it.
	TTL time.Duration `env:"CACHE_TTL" envDefault:"1h"`

	// Storage selects the backend created by New.
	Storage StorageType `env:"CACHE_STORAGE" envDefault:"memory"`

	// MaxSize bounds the number of entries held by the memory backend.
	MaxSize int `env:"CACHE_MAX_SIZE" envDefault:"1000"`

	// Dir is the directory used by the disk backend. A leading "~" is
	// expanded. Empty means the per-user cache directory.
	Dir string `env:"CACHE_DIR"`

	// Compression enables transparent zstd compression of disk data files.
	Compression bool `env:"CACHE_COMPRESSION"`

	// CompressionLevel is the zstd level used when Compression is on (1-22).
	CompressionLevel int `env:"CACHE_COMPRESSION_LEVEL" envDefault:"3"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:              DefaultTTL,
		Storage:          StorageMemory,
		MaxSize:          DefaultMaxSize,
		CompressionLevel: 3,
	}
}

// FromEnv reads the configuration from CACHE_* environment variables.
func FromEnv() (Config, error) {
	return env.ParseAs[Config]()
}

// Stats holds cache performance counters.
type Stats struct {
	Hits      int64   // Number of cache hits
	Misses    int64   // Number of cache misses
	Evictions int64   // Entries removed to satisfy the size bound
	Expired   int64   // Entries removed because their TTL ran out
	ItemCount int64   // Entries currently stored
	HitRate   float64 // hits / (hits + misses)
}

// EntryInfo describes a cached entry for introspection. Size and CreatedAt
// are best effort: the memory backend stores arbitrary values and reports
// zero for both.
type EntryInfo struct {
	Key       string
	Size      int64
	CreatedAt time.Time
	ExpiresAt time.Time
}
