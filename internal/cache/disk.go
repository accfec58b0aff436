package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const entryExt = ".zst"

// Disk is a size-bounded, zstd-compressed cache stored as one file per
// entry. The in-memory index is rebuilt from the directory on open, so the
// cache survives restarts without a separate index file.
type Disk struct {
	basePath string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*diskEntry

	mu     sync.Mutex
	stats  Stats
	closed bool
}

type diskEntry struct {
	path       string
	size       int64
	lastAccess time.Time
}

// NewDisk opens (creating if needed) a disk cache rooted at basePath.
// capacity is the maximum compressed size in bytes; level is a zstd level
// between 1 and 22.
func NewDisk(basePath string, capacity int64, level int) (*Disk, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	d := &Disk{
		basePath: basePath,
		capacity: capacity,
		encoder:  enc,
		decoder:  dec,
		index:    make(map[string]*diskEntry),
		stats:    Stats{Capacity: capacity},
	}
	if err := d.rebuildIndex(); err != nil {
		d.Close() //nolint:errcheck
		return nil, err
	}
	return d, nil
}

// Get returns the decompressed value for key.
func (d *Disk) Get(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false
	}
	entry, ok := d.index[key]
	if !ok {
		d.stats.Misses++
		return nil, false
	}

	raw, err := os.ReadFile(entry.path)
	if err != nil {
		d.removeLocked(key, entry)
		d.stats.Misses++
		return nil, false
	}
	data, err := d.decoder.DecodeAll(raw, nil)
	if err != nil {
		// Corrupted entry, drop it
		d.removeLocked(key, entry)
		d.stats.Corrupted++
		d.stats.Misses++
		return nil, false
	}

	now := time.Now()
	entry.lastAccess = now
	_ = os.Chtimes(entry.path, now, now)
	d.stats.Hits++
	d.stats.LastAccess = now
	return data, true
}

// Put compresses and stores value under key, evicting least recently used
// entries as needed.
func (d *Disk) Put(key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrCacheClosed
	}

	compressed := d.encoder.EncodeAll(value, nil)
	size := int64(len(compressed))
	if size > d.capacity {
		return ErrItemTooLarge
	}

	if existing, ok := d.index[key]; ok {
		d.removeLocked(key, existing)
	}
	for d.size+size > d.capacity && len(d.index) > 0 {
		d.evictOldestLocked()
	}

	path := filepath.Join(d.basePath, key+entryExt)
	if err := writeFileAtomic(path, compressed); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	d.index[key] = &diskEntry{path: path, size: size, lastAccess: time.Now()}
	d.size += size
	return nil
}

// Contains checks if a key exists without touching its access time.
func (d *Disk) Contains(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.index[key]
	return ok
}

// Size returns the current compressed size in bytes.
func (d *Disk) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// Stats returns cache statistics.
func (d *Disk) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.stats
	stats.Size = d.size
	stats.ItemCount = int64(len(d.index))
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// Clear removes all entries.
func (d *Disk) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for key, entry := range d.index {
		if err := os.Remove(entry.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		delete(d.index, key)
	}
	d.size = 0
	return errors.Join(errs...)
}

// Close releases the compression codecs. Entries stay on disk.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.decoder.Close()
	return d.encoder.Close()
}

func (d *Disk) rebuildIndex() error {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			// Leftover from an interrupted write
			_ = os.Remove(filepath.Join(d.basePath, name))
			continue
		}
		if !strings.HasSuffix(name, entryExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key := strings.TrimSuffix(name, entryExt)
		d.index[key] = &diskEntry{
			path:       filepath.Join(d.basePath, name),
			size:       info.Size(),
			lastAccess: info.ModTime(),
		}
		d.size += info.Size()
	}

	for d.size > d.capacity && len(d.index) > 0 {
		d.evictOldestLocked()
	}
	return nil
}

func (d *Disk) evictOldestLocked() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, entry := range d.index {
		if oldestKey == "" || entry.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccess
		}
	}
	if oldestKey == "" {
		return
	}
	d.removeLocked(oldestKey, d.index[oldestKey])
	d.stats.Evictions++
	d.stats.LastEvict = time.Now()
}

func (d *Disk) removeLocked(key string, entry *diskEntry) {
	_ = os.Remove(entry.path)
	d.size -= entry.size
	delete(d.index, key)
}

// writeFileAtomic writes to a temp file first, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
