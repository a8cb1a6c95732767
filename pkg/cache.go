package dedup

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/vectorio"
)

// CacheEntry is one row of the persisted cache: the fingerprint computed for a
// path the last time it was observed at the given modification time. The
// fingerprint is valid only if the file has not been modified since MTimeNs
// was recorded; the cache never proves current content.
type CacheEntry struct {
	Path        string // absolute filesystem path, byte-accurate
	MTimeNs     int64  // modification time in nanoseconds at hash time
	Fingerprint []byte

	context string // CacheContext or ScanContext, set by the owning HashCache
}

// encode renders the entry as one cache file record:
// <mtime>:<hex-fingerprint>:<raw-path-bytes>\n
// The path is written verbatim as the final field, so ':' inside a path
// round-trips; only a newline is unrepresentable (rejected at scan time).
func (e *CacheEntry) encode() []byte {
	record := make([]byte, 0, 24+hex.EncodedLen(len(e.Fingerprint))+len(e.Path))
	record = strconv.AppendInt(record, e.MTimeNs, 10)
	record = append(record, ':')
	record = hex.AppendEncode(record, e.Fingerprint)
	record = append(record, ':')
	record = append(record, e.Path...)
	record = append(record, '\n')
	return record
}

// StaleCacheDecision is the caller's answer to "the persisted cache is old,
// should it still be trusted?". The interactive prompt lives entirely in the
// CLI layer; the core only consumes the decision.
type StaleCacheDecision int

const (
	KeepCache StaleCacheDecision = iota
	DiscardCache
)

// StaleCacheDecider decides whether a cache of the given age is still trusted.
type StaleCacheDecider func(age time.Duration) StaleCacheDecision

// HashCache is the process-lifetime mapping from absolute path to
// (modification time, fingerprint). It is loaded once at start, mutated
// concurrently by worker completions during scanning, and persisted in full
// at shutdown. All access to the underlying map is serialized; each update
// touches exactly one key, so no multi-key transactions are needed.
type HashCache struct {
	mutex     sync.RWMutex
	entries   map[string]*CacheEntry
	algorithm *HashAlgorithm
	createdAt int64 // unix timestamp from the loaded cache file, 0 if fresh
}

// NewHashCache creates an empty cache for the given algorithm
func NewHashCache(algorithm *HashAlgorithm) *HashCache {
	return &HashCache{
		entries:   make(map[string]*CacheEntry),
		algorithm: algorithm,
	}
}

// Header returns the expected cache file header line for this cache
func (c *HashCache) Header() string {
	return fmt.Sprintf("%s %s", HeaderPrefix, c.algorithm.Name)
}

// Algorithm returns the hash algorithm this cache stores fingerprints for
func (c *HashCache) Algorithm() *HashAlgorithm {
	return c.algorithm
}

// Get returns the cached modification time and fingerprint for a path
func (c *HashCache) Get(path string) (mtimeNs int64, fingerprint []byte, ok bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	entry, ok := c.entries[path]
	if !ok {
		return 0, nil, false
	}
	return entry.MTimeNs, entry.Fingerprint, true
}

// Put inserts or overwrites the entry for a path. Safe under concurrent
// invocation from multiple worker completions.
func (c *HashCache) Put(path string, mtimeNs int64, fingerprint []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[path] = &CacheEntry{
		Path:        path,
		MTimeNs:     mtimeNs,
		Fingerprint: fingerprint,
		context:     ScanContext,
	}
}

// Remove deletes the entry for a path, so stale entries don't linger after a
// duplicate file is physically removed. Removing an absent path is a no-op.
func (c *HashCache) Remove(path string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, path)
}

// Len returns the number of cached entries
func (c *HashCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// CreatedAt returns the creation timestamp read from the persisted cache,
// or zero if the cache started empty this run.
func (c *HashCache) CreatedAt() int64 {
	return c.createdAt
}

// Stats reports how many entries were carried over from the persisted cache
// and how many were hashed during the current run.
func (c *HashCache) Stats() (cached, scanned int) {
	return c.SortedView().Stats()
}

// SortedView builds a path-ordered skiplist view over the current entries.
// Both Persist and the duplicate resolver iterate this view so record order
// and verification-copy selection are deterministic.
func (c *HashCache) SortedView() *entryView {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	view := newEntryView(16)
	for _, entry := range c.entries {
		view.Insert(entry, entry.context)
	}
	return view
}

// LoadCache reads a persisted cache file. A missing file is not an error,
// just an empty starting state. A header or record that cannot be parsed is
// a fatal *FormatError; no malformed line is silently skipped.
//
// If the cache creation timestamp is older than maxAge, decide is consulted.
// DiscardCache deletes the persisted file and returns an empty cache. A nil
// decide keeps the cache unconditionally.
func LoadCache(path string, algorithm *HashAlgorithm, maxAge time.Duration, decide StaleCacheDecider) (*HashCache, error) {
	cache := NewHashCache(algorithm)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cache, nil
		}
		return nil, fmt.Errorf("failed to read cache file %s: %w", path, err)
	}

	lines := bytes.Split(data, []byte{'\n'})
	if len(lines) < 2 {
		return nil, &FormatError{Path: path, Reason: "truncated file"}
	}

	header := string(lines[0])
	if header != cache.Header() {
		return nil, &FormatError{Path: path, Line: 1,
			Reason: fmt.Sprintf("header %q does not match expected %q", header, cache.Header())}
	}

	createdAt, err := strconv.ParseInt(string(lines[1]), 10, 64)
	if err != nil {
		return nil, &FormatError{Path: path, Line: 2,
			Reason: fmt.Sprintf("invalid creation timestamp %q", string(lines[1]))}
	}
	cache.createdAt = createdAt

	if age := time.Since(time.Unix(createdAt, 0)); age >= maxAge && decide != nil {
		if decide(age) == DiscardCache {
			VerboseLog(1, "LoadCache: discarding cache %s (%s old)", path, age.Round(time.Second))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to remove stale cache file %s: %w", path, err)
			}
			return NewHashCache(algorithm), nil
		}
	}

	for i, line := range lines[2:] {
		if len(line) == 0 && i == len(lines[2:])-1 {
			break // trailing newline
		}
		entry, err := parseRecord(path, i+3, line, algorithm)
		if err != nil {
			return nil, err
		}
		cache.entries[entry.Path] = entry
	}

	VerboseLog(2, "LoadCache: read %d entries from %s", len(cache.entries), path)
	return cache, nil
}

// parseRecord parses one <mtime>:<hex-fingerprint>:<raw-path> record
func parseRecord(cachePath string, lineNo int, line []byte, algorithm *HashAlgorithm) (*CacheEntry, error) {
	fields := bytes.SplitN(line, []byte{':'}, 3)
	if len(fields) != 3 {
		return nil, &FormatError{Path: cachePath, Line: lineNo, Reason: "expected mtime:fingerprint:path"}
	}

	mtimeNs, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return nil, &FormatError{Path: cachePath, Line: lineNo,
			Reason: fmt.Sprintf("invalid modification time %q", string(fields[0]))}
	}

	fingerprint, err := hex.DecodeString(string(fields[1]))
	if err != nil {
		return nil, &FormatError{Path: cachePath, Line: lineNo,
			Reason: fmt.Sprintf("invalid fingerprint %q", string(fields[1]))}
	}
	if len(fingerprint) != algorithm.Size {
		return nil, &FormatError{Path: cachePath, Line: lineNo,
			Reason: fmt.Sprintf("fingerprint is %d bytes, %s expects %d", len(fingerprint), algorithm.Name, algorithm.Size)}
	}

	if len(fields[2]) == 0 {
		return nil, &FormatError{Path: cachePath, Line: lineNo, Reason: "empty path"}
	}

	return &CacheEntry{
		Path:        string(fields[2]),
		MTimeNs:     mtimeNs,
		Fingerprint: fingerprint,
		context:     CacheContext,
	}, nil
}

// Persist writes the cache to disk: header line, creation timestamp, then one
// record per entry in sorted path order. The records are written to a
// temporary file in the destination directory with bulk writev, synced, and
// renamed over the old cache, so a crash mid-write never corrupts a
// previously good cache. An empty cache is not persisted.
func (c *HashCache) Persist(path string) error {
	if c.Len() == 0 {
		return nil
	}

	// Header and creation timestamp; a persisted cache is considered created
	// at the moment it is written out.
	createdAt := time.Now().Unix()
	preamble := fmt.Appendf(nil, "%s\n%d\n", c.Header(), createdAt)

	// Collect record buffers in sorted path order. The buffers back the
	// iovecs below, so they must stay alive until the writev completes.
	var records [][]byte
	c.SortedView().ForEach(func(entry *CacheEntry, context string) bool {
		records = append(records, entry.encode())
		return true
	})

	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".dedup-cache-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary cache file in %s: %w", dir, err)
	}
	tempPath := tempFile.Name()
	defer func() {
		tempFile.Close()
		os.Remove(tempPath) // no-op after a successful rename
	}()

	iovecs := make([]syscall.Iovec, 0, len(records)+1)
	iovecs = append(iovecs, syscall.Iovec{Base: &preamble[0], Len: uint64(len(preamble))})
	totalSize := len(preamble)
	for _, record := range records {
		iovecs = append(iovecs, syscall.Iovec{Base: &record[0], Len: uint64(len(record))})
		totalSize += len(record)
	}

	// Chunk to respect the system IOV_MAX limit
	maxIovecs := getSystemIOVMax()
	totalWritten := 0
	for offset := 0; offset < len(iovecs); offset += maxIovecs {
		end := offset + maxIovecs
		if end > len(iovecs) {
			end = len(iovecs)
		}
		nw, err := vectorio.WritevRaw(uintptr(tempFile.Fd()), iovecs[offset:end])
		if err != nil {
			return fmt.Errorf("failed to write cache records: %w", err)
		}
		totalWritten += nw
	}
	if totalWritten != totalSize {
		return fmt.Errorf("cache write incomplete: wrote %d bytes, expected %d", totalWritten, totalSize)
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync cache file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to replace cache file %s: %w", path, err)
	}

	VerboseLog(2, "Persist: wrote %d records (%d bytes) to %s", len(records), totalSize, path)
	c.createdAt = createdAt
	return nil
}
