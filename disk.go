package apicache

import (
	"bytes"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	homedir "github.com/mitchellh/go-homedir"
)

// File name suffixes for the two files backing one entry.
const (
	dataSuffix = ".cache.data"
	metaSuffix = ".cache.meta"
)

// Data files above this size are considered for compression.
const minCompressSize = 1024

// zstd frame magic, used to recognize compressed data files on read so a
// directory written with mixed compression settings stays readable.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DiskCache persists entries across process restarts. Each entry is a pair
// of files in the cache directory: a data file holding the value (UTF-8
// JSON, or a gob envelope for values JSON cannot represent) and a JSON
// metadata file holding the original key and the expiry bookkeeping.
//
// A single instance is safe for concurrent use. Concurrent processes
// writing the same key may interleave the two files of a write; writes go
// through a temp file and a rename, so each individual file is always
// observed whole.
type DiskCache struct {
	ttl time.Duration
	dir string

	mu sync.Mutex

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	stats  Stats
	logger *log.Logger
}

// entryMeta is the on-disk metadata schema. Timestamps are float seconds
// since the Unix epoch.
type entryMeta struct {
	Key       string  `json:"key"`
	Timestamp float64 `json:"timestamp"`
	CreatedAt float64 `json:"created_at"`
	ExpiresAt float64 `json:"expires_at"`
	TTL       float64 `json:"ttl"`
}

// gobValue wraps a value for the binary fallback encoding. Concrete types
// stored through this branch must be registered with gob.Register.
type gobValue struct {
	V any
}

// NewDiskCache creates a disk cache rooted at cfg.Dir, creating the
// directory if needed. An empty Dir resolves to the per-user cache
// directory; a leading "~" is expanded.
func NewDiskCache(cfg Config) (*DiskCache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	dir := cfg.Dir
	if dir == "" {
		var err error
		dir, err = defaultCacheDir()
		if err != nil {
			return nil, err
		}
	}
	dir, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to expand cache directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dc := &DiskCache{
		ttl:    cfg.TTL,
		dir:    dir,
		logger: log.WithPrefix("cache.disk"),
	}

	// The decoder is always available so compressed entries written by a
	// differently configured instance still read back.
	dc.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	if cfg.Compression {
		level := cfg.CompressionLevel
		if level <= 0 {
			level = 3
		}
		dc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	dc.logger.Debug("disk cache initialized", "dir", dir, "ttl", cfg.TTL)
	return dc, nil
}

// Dir returns the directory this cache owns.
func (dc *DiskCache) Dir() string {
	return dc.dir
}

// Set stores value under key. A ttl <= 0 means the cache-wide default.
// Values are encoded as JSON when possible and as a gob envelope otherwise;
// gob-branch types must be registered with gob.Register. Set never panics
// on storage trouble: any serialization or I/O failure is logged and
// reported as false, leaving the previous entry for key intact.
func (dc *DiskCache) Set(key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = dc.ttl
	}

	payload, err := dc.encodeValue(value)
	if err != nil {
		dc.logger.Error("failed to encode value", "key", key, "error", err)
		return false
	}
	if dc.encoder != nil && len(payload) > minCompressSize {
		if compressed := dc.encoder.EncodeAll(payload, nil); len(compressed) < len(payload) {
			payload = compressed
		}
	}

	now := time.Now()
	meta := entryMeta{
		Key:       key,
		Timestamp: unixSeconds(now),
		CreatedAt: unixSeconds(now),
		ExpiresAt: unixSeconds(now.Add(ttl)),
		TTL:       ttl.Seconds(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		dc.logger.Error("failed to encode metadata", "key", key, "error", err)
		return false
	}

	dataPath, metaPath := dc.entryPaths(key)

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if err := writeFileAtomic(dataPath, payload); err != nil {
		dc.logger.Error("failed to write data file", "key", key, "error", err)
		return false
	}
	if err := writeFileAtomic(metaPath, metaBytes); err != nil {
		dc.logger.Error("failed to write metadata file", "key", key, "error", err)
		return false
	}

	return true
}

// Get returns the live value for key. Any read, parse or decode failure is
// downgraded to a miss.
func (dc *DiskCache) Get(key string) (any, bool) {
	dataPath, metaPath := dc.entryPaths(key)

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if !dc.liveLocked(key, dataPath, metaPath) {
		dc.stats.Misses++
		return nil, false
	}

	raw, err := os.ReadFile(dataPath)
	if err != nil {
		dc.stats.Misses++
		return nil, false
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		decompressed, err := dc.decoder.DecodeAll(raw, nil)
		if err != nil {
			dc.logger.Warn("failed to decompress data file", "key", key, "error", err)
			dc.stats.Misses++
			return nil, false
		}
		raw = decompressed
	}

	value, err := decodeValue(raw)
	if err != nil {
		dc.logger.Warn("failed to decode data file", "key", key, "error", err)
		dc.stats.Misses++
		return nil, false
	}

	dc.stats.Hits++
	return value, true
}

// Has reports whether a live entry exists for key. Entries discovered to be
// expired, corrupted or half-present are deleted on the spot.
func (dc *DiskCache) Has(key string) bool {
	dataPath, metaPath := dc.entryPaths(key)

	dc.mu.Lock()
	defer dc.mu.Unlock()

	return dc.liveLocked(key, dataPath, metaPath)
}

// Delete removes the entry for key, reporting whether anything was removed.
func (dc *DiskCache) Delete(key string) bool {
	dataPath, metaPath := dc.entryPaths(key)

	dc.mu.Lock()
	defer dc.mu.Unlock()

	return dc.removePairLocked(dataPath, metaPath)
}

// Clear removes every data and metadata file in the cache directory.
// Unrelated files that share the directory are left alone.
func (dc *DiskCache) Clear() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entries, err := os.ReadDir(dc.dir)
	if err != nil {
		dc.logger.Error("failed to read cache directory", "error", err)
		return false
	}

	ok := true
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, dataSuffix) && !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dc.dir, name)); err != nil {
			dc.logger.Error("failed to remove cache file", "file", name, "error", err)
			ok = false
		}
	}

	return ok
}

// InvalidateByPrefix removes every entry whose original key starts with
// prefix and returns the number removed. Filenames are hashed, so the key
// is recovered from each metadata file; files that fail to parse are
// skipped.
func (dc *DiskCache) InvalidateByPrefix(prefix string) int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entries, err := os.ReadDir(dc.dir)
	if err != nil {
		dc.logger.Error("failed to read cache directory", "error", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		metaPath := filepath.Join(dc.dir, name)
		meta, err := readMeta(metaPath)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(meta.Key, prefix) {
			continue
		}
		dataPath := strings.TrimSuffix(metaPath, metaSuffix) + dataSuffix
		if dc.removePairLocked(dataPath, metaPath) {
			removed++
		}
	}

	return removed
}

// Entries returns a snapshot built from the metadata files, possibly
// including expired entries that have not been swept yet. Unparseable
// metadata is skipped.
func (dc *DiskCache) Entries() []EntryInfo {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dirEntries, err := os.ReadDir(dc.dir)
	if err != nil {
		dc.logger.Error("failed to read cache directory", "error", err)
		return nil
	}

	var infos []EntryInfo
	for _, entry := range dirEntries {
		name := entry.Name()
		if !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		metaPath := filepath.Join(dc.dir, name)
		meta, err := readMeta(metaPath)
		if err != nil {
			continue
		}
		info := EntryInfo{
			Key:       meta.Key,
			CreatedAt: timeFromSeconds(meta.CreatedAt),
			ExpiresAt: timeFromSeconds(meta.ExpiresAt),
		}
		dataPath := strings.TrimSuffix(metaPath, metaSuffix) + dataSuffix
		if st, err := os.Stat(dataPath); err == nil {
			info.Size = st.Size()
		}
		infos = append(infos, info)
	}

	return infos
}

// Stats returns the instance's performance counters. ItemCount is the
// number of metadata files currently on disk.
func (dc *DiskCache) Stats() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	if entries, err := os.ReadDir(dc.dir); err == nil {
		for _, entry := range entries {
			if strings.HasSuffix(entry.Name(), metaSuffix) {
				stats.ItemCount++
			}
		}
	}
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// entryPaths maps a key to its data and metadata file paths. Keys are
// hashed so arbitrary key content and length never break file creation.
func (dc *DiskCache) entryPaths(key string) (dataPath, metaPath string) {
	sum := md5.Sum([]byte(key))
	stem := filepath.Join(dc.dir, hex.EncodeToString(sum[:]))
	return stem + dataSuffix, stem + metaSuffix
}

// liveLocked reports whether key holds a live, fully present entry.
// Expired entries, unparseable metadata and metadata without a data file
// are removed on discovery (must be called with the lock held).
func (dc *DiskCache) liveLocked(key, dataPath, metaPath string) bool {
	meta, err := readMeta(metaPath)
	if err != nil {
		if !os.IsNotExist(err) {
			dc.logger.Warn("removing unreadable metadata", "key", key, "error", err)
			dc.removePairLocked(dataPath, metaPath)
		}
		return false
	}

	if unixSeconds(time.Now()) > meta.ExpiresAt {
		dc.logger.Debug("entry expired", "key", key)
		dc.removePairLocked(dataPath, metaPath)
		dc.stats.Expired++
		return false
	}

	if _, err := os.Stat(dataPath); err != nil {
		// Metadata without a data file is garbage.
		dc.removePairLocked(dataPath, metaPath)
		return false
	}

	return true
}

// removePairLocked removes both files of an entry, reporting whether at
// least one existed (must be called with the lock held).
func (dc *DiskCache) removePairLocked(dataPath, metaPath string) bool {
	removed := false
	for _, path := range []string{dataPath, metaPath} {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed = true
		case !os.IsNotExist(err):
			dc.logger.Error("failed to remove cache file", "file", path, "error", err)
		}
	}
	return removed
}

// encodeValue serializes a value for the data file: JSON first, gob
// envelope when JSON cannot represent it. decodeValue mirrors this order;
// the two must stay symmetric.
func (dc *DiskCache) encodeValue(value any) ([]byte, error) {
	payload, jsonErr := json.Marshal(value)
	if jsonErr == nil {
		return payload, nil
	}

	var buf bytes.Buffer
	if gobErr := gob.NewEncoder(&buf).Encode(gobValue{V: value}); gobErr != nil {
		return nil, fmt.Errorf("json: %v; gob: %w", jsonErr, gobErr)
	}
	return buf.Bytes(), nil
}

// decodeValue deserializes a data file: JSON first, then the gob envelope.
func decodeValue(raw []byte) (any, error) {
	var value any
	jsonErr := json.Unmarshal(raw, &value)
	if jsonErr == nil {
		return value, nil
	}

	var envelope gobValue
	if gobErr := gob.NewDecoder(bytes.NewReader(raw)).Decode(&envelope); gobErr != nil {
		return nil, fmt.Errorf("json: %v; gob: %w", jsonErr, gobErr)
	}
	return envelope.V, nil
}

// readMeta reads and parses a metadata file.
func readMeta(metaPath string) (entryMeta, error) {
	var meta entryMeta
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// writeFileAtomic writes data to a temp file and renames it into place, so
// a reader never observes a half-written file.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

// unixSeconds converts a time to float seconds since the Unix epoch, the
// unit used by the metadata schema.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// timeFromSeconds is the inverse of unixSeconds.
func timeFromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
