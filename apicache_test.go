package apicache

import (
	"errors"
	"testing"
	"time"
)

func TestNew_MemoryBackend(t *testing.T) {
	cache, err := New(Config{Storage: StorageMemory})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := cache.(*MemoryCache); !ok {
		t.Errorf("expected a *MemoryCache, got %T", cache)
	}
}

func TestNew_DiskBackend(t *testing.T) {
	cache, err := New(Config{Storage: StorageDisk, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := cache.(*DiskCache); !ok {
		t.Errorf("expected a *DiskCache, got %T", cache)
	}
}

func TestNew_EmptyStorageDefaultsToMemory(t *testing.T) {
	cache, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := cache.(*MemoryCache); !ok {
		t.Errorf("expected a *MemoryCache, got %T", cache)
	}
}

func TestNew_UnknownStorage(t *testing.T) {
	_, err := New(Config{Storage: "redis"})
	if err == nil {
		t.Fatal("expected an error for an unknown storage type")
	}
	if !errors.Is(err, ErrUnknownStorage) {
		t.Errorf("expected ErrUnknownStorage, got %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CACHE_STORAGE", "disk")
	t.Setenv("CACHE_TTL", "30m")
	t.Setenv("CACHE_MAX_SIZE", "50")
	t.Setenv("CACHE_DIR", "/tmp/apicache-test")
	t.Setenv("CACHE_COMPRESSION", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Storage != StorageDisk {
		t.Errorf("Storage = %q, want %q", cfg.Storage, StorageDisk)
	}
	if cfg.TTL != 30*time.Minute {
		t.Errorf("TTL = %v, want 30m", cfg.TTL)
	}
	if cfg.MaxSize != 50 {
		t.Errorf("MaxSize = %d, want 50", cfg.MaxSize)
	}
	if cfg.Dir != "/tmp/apicache-test" {
		t.Errorf("Dir = %q", cfg.Dir)
	}
	if !cfg.Compression {
		t.Error("Compression should be enabled")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Storage != StorageMemory {
		t.Errorf("default Storage = %q, want %q", cfg.Storage, StorageMemory)
	}
	if cfg.TTL != DefaultTTL {
		t.Errorf("default TTL = %v, want %v", cfg.TTL, DefaultTTL)
	}
	if cfg.MaxSize != DefaultMaxSize {
		t.Errorf("default MaxSize = %d, want %d", cfg.MaxSize, DefaultMaxSize)
	}
}

// The same sequence of operations behaves identically on both backends.
func TestBackends_SharedSemantics(t *testing.T) {
	backends := map[string]func(t *testing.T) Cache{
		"memory": func(t *testing.T) Cache {
			return NewMemoryCache(Config{TTL: time.Minute, MaxSize: 100})
		},
		"disk": func(t *testing.T) Cache {
			cache, err := NewDiskCache(Config{TTL: time.Minute, Dir: t.TempDir()})
			if err != nil {
				t.Fatal(err)
			}
			return cache
		},
	}

	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			cache := build(t)

			if cache.Has("missing") {
				t.Error("Has should be false for an empty cache")
			}
			if _, ok := cache.Get("missing"); ok {
				t.Error("Get should miss on an empty cache")
			}

			if !cache.Set("query:1", "result one", 0) {
				t.Fatal("Set failed")
			}
			cache.Set("query:2", "result two", 0)
			cache.Set("other:1", "unrelated", 0)

			if v, ok := cache.Get("query:1"); !ok || v != "result one" {
				t.Errorf("Get(query:1) = %v, %v", v, ok)
			}

			if removed := cache.InvalidateByPrefix("query:"); removed != 2 {
				t.Errorf("InvalidateByPrefix removed %d, want 2", removed)
			}
			if cache.Has("query:1") || cache.Has("query:2") {
				t.Error("invalidated entries should be gone")
			}
			if !cache.Has("other:1") {
				t.Error("unrelated entry should remain")
			}

			if !cache.Clear() {
				t.Error("Clear failed")
			}
			if cache.Has("other:1") {
				t.Error("Clear should remove everything")
			}
		})
	}
}
