package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheClosed is returned when the cache is used after Close
	ErrCacheClosed = errors.New("cache is closed")
)

// Stats holds cache performance metrics
type Stats struct {
	Capacity  int64 // Maximum capacity in bytes (compressed)
	Size      int64 // Current size in bytes (compressed)
	ItemCount int64

	Hits      int64
	Misses    int64
	Evictions int64
	Corrupted int64
	HitRate   float64

	LastAccess time.Time
	LastEvict  time.Time
}

// Key derives a cache key from the parts of a synthesis request.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
