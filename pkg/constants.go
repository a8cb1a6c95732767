package dedup

import "time"

// Context constants for skiplist views
const (
	CacheContext = "cache" // entry was loaded from the persisted cache file
	ScanContext  = "scan"  // entry was hashed during the current run
)

// Cache file format constants
const (
	// HeaderPrefix identifies the tool and the cache format version. The
	// active hash algorithm name is appended to form the full header line,
	// so a cache written with one algorithm refuses to load under another.
	HeaderPrefix = "dedup 1.0"

	// DefaultCacheFile is the persisted cache location, relative to $HOME.
	DefaultCacheFile = "~/.cache/dedup_cache.txt"
)

// DefaultMaxCacheAge is how old a persisted cache may be before the caller
// is asked whether it should still be trusted.
const DefaultMaxCacheAge = time.Hour

// DefaultHashBuffer is the read buffer size for streaming file hashing.
const DefaultHashBuffer = 256 * 1024
