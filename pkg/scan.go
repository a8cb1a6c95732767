package dedup

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ScanResult reports what a scan run did
type ScanResult struct {
	FilesSeen   int // regular files considered
	FilesHashed int // files submitted for hashing
	CacheHits   int // files skipped because the cache was current
}

// Scanner walks directory roots, consults the hash cache to skip unchanged
// files, and enqueues hashing jobs for the rest. It is the sole producer for
// the worker pool; the bounded job queue is its only suspension point.
type Scanner struct {
	cache        *HashCache
	pool         *WorkerPool
	cacheFile    string // absolute path of the persisted cache, never hashed
	shutdownChan <-chan struct{}

	// Warnf receives per-file warnings. Defaults to stderr.
	Warnf func(format string, args ...interface{})

	// OnHash, when set, is invoked before a file is submitted for hashing.
	// The CLI uses it to print progress with a humanized size.
	OnHash func(path string, size int64)
}

// NewScanner creates a scanner feeding the given pool and recording results
// into cache. cacheFile is skipped during scanning so the cache never hashes
// itself. shutdownChan may be nil.
func NewScanner(cache *HashCache, pool *WorkerPool, cacheFile string, shutdownChan <-chan struct{}) *Scanner {
	return &Scanner{
		cache:        cache,
		pool:         pool,
		cacheFile:    cacheFile,
		shutdownChan: shutdownChan,
		Warnf:        warnStderr,
	}
}

// Scan enumerates every regular file beneath each root and submits a hash
// job for each file the cache cannot vouch for. Directories and symlinks are
// skipped silently, other non-regular files with a warning. Per-file stat
// and read errors are warnings; a path containing a newline is fatal since
// it cannot be represented in the cache file.
//
// Scan returns once every job has been submitted; completions may still be
// in flight until the pool is shut down.
func (s *Scanner) Scan(roots []string) (*ScanResult, error) {
	result := &ScanResult{}

	for _, root := range roots {
		VerboseLog(2, "Scan: walking root %s", root)
		if err := s.scanDirectory(root, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

// scanDirectory walks one root
func (s *Scanner) scanDirectory(root string, result *ScanResult) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-s.shutdownChan:
			return fmt.Errorf("scan interrupted by shutdown")
		default:
		}

		if err != nil {
			s.Warnf("skip %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !d.Type().IsRegular() {
			s.Warnf("skip non-regular file: %s", path)
			return nil
		}

		return s.scanFile(path, result)
	})
}

// scanFile applies the incremental-recomputation policy to one regular file:
// hash only when the cache has no entry or the cached modification time is
// older than the file's current one. A file rewritten with an identical or
// earlier timestamp is treated as unchanged; the cache trusts mtime
// monotonicity (documented limitation).
func (s *Scanner) scanFile(path string, result *ScanResult) error {
	absPath, err := CanonicalPath(path)
	if err != nil {
		s.Warnf("skip %s: %v", path, err)
		return nil
	}

	if absPath == s.cacheFile {
		return nil
	}

	// The cache file format is line-delimited; a newline in a path would
	// corrupt it irreparably, so fail the scan rather than persist it.
	if strings.ContainsRune(absPath, '\n') {
		return &PathEncodingError{Path: absPath}
	}

	var stat unix.Stat_t
	if err := unix.Lstat(absPath, &stat); err != nil {
		s.Warnf("failed to stat %s: %v", absPath, err)
		return nil
	}
	mtimeNs := stat.Mtim.Nano()

	result.FilesSeen++

	if cachedMTime, _, ok := s.cache.Get(absPath); ok && cachedMTime >= mtimeNs {
		// Use cached fingerprint, file was not modified
		VerboseLog(3, "scanFile: cache hit for %s", absPath)
		result.CacheHits++
		return nil
	}

	if s.OnHash != nil {
		s.OnHash(absPath, stat.Size)
	}
	VerboseLog(3, "scanFile: submitting %s for hashing", absPath)
	result.FilesHashed++

	accepted := s.pool.Submit(&HashJob{
		Path:    absPath,
		MTimeNs: mtimeNs,
		Done: func(fingerprint []byte, err error) {
			if err != nil {
				s.Warnf("failed to hash %s: %v", absPath, err)
				return
			}
			s.cache.Put(absPath, mtimeNs, fingerprint)
		},
	})
	if !accepted {
		result.FilesHashed--
		return fmt.Errorf("scan interrupted by shutdown")
	}

	return nil
}
