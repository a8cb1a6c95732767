package dedup

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// scanOnce runs a full scan of roots into cache, waiting for all hash jobs
func scanOnce(t *testing.T, cache *HashCache, cacheFile string, roots []string) (*ScanResult, []string, error) {
	t.Helper()

	pool := NewWorkerPool(2, cache.Algorithm(), DefaultHashBuffer, nil)
	scanner := NewScanner(cache, pool, cacheFile, nil)

	var mutex sync.Mutex
	var warnings []string
	scanner.Warnf = func(format string, args ...interface{}) {
		mutex.Lock()
		warnings = append(warnings, format)
		mutex.Unlock()
	}

	result, err := scanner.Scan(roots)
	pool.Shutdown()
	return result, warnings, err
}

func TestScanner_PopulatesCache(t *testing.T) {
	tempDir := t.TempDir()
	fileA := writeFile(t, filepath.Join(tempDir, "a.txt"), "hello")
	fileB := writeFile(t, filepath.Join(tempDir, "sub", "b.txt"), "world")

	cache := NewHashCache(DefaultHashAlgorithm())
	result, _, err := scanOnce(t, cache, "", []string{tempDir})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if result.FilesSeen != 2 || result.FilesHashed != 2 || result.CacheHits != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if cache.Len() != 2 {
		t.Fatalf("Expected 2 cache entries, got %d", cache.Len())
	}

	for _, path := range []string{fileA, fileB} {
		absPath, _ := CanonicalPath(path)
		_, fingerprint, ok := cache.Get(absPath)
		if !ok {
			t.Errorf("No cache entry for %s", absPath)
			continue
		}
		expected, err := HashFile(absPath, cache.Algorithm(), DefaultHashBuffer)
		if err != nil {
			t.Fatalf("HashFile failed: %v", err)
		}
		if !bytes.Equal(fingerprint, expected) {
			t.Errorf("Wrong fingerprint cached for %s", absPath)
		}
	}
}

func TestScanner_SecondScanUsesCache(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "a.txt"), "hello")
	writeFile(t, filepath.Join(tempDir, "b.txt"), "world")

	cache := NewHashCache(DefaultHashAlgorithm())
	if _, _, err := scanOnce(t, cache, "", []string{tempDir}); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}

	// No filesystem changes: the second scan must perform zero rehashing
	result, _, err := scanOnce(t, cache, "", []string{tempDir})
	if err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}
	if result.FilesHashed != 0 {
		t.Errorf("Expected 0 files hashed on second scan, got %d", result.FilesHashed)
	}
	if result.CacheHits != 2 {
		t.Errorf("Expected 2 cache hits on second scan, got %d", result.CacheHits)
	}
}

func TestScanner_DetectsModification(t *testing.T) {
	tempDir := t.TempDir()
	path := writeFile(t, filepath.Join(tempDir, "a.txt"), "hello")
	absPath, _ := CanonicalPath(path)

	cache := NewHashCache(DefaultHashAlgorithm())
	if _, _, err := scanOnce(t, cache, "", []string{tempDir}); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}
	_, before, _ := cache.Get(absPath)

	// Rewrite with a strictly newer modification time
	writeFile(t, path, "changed")
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	result, _, err := scanOnce(t, cache, "", []string{tempDir})
	if err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}
	if result.FilesHashed != 1 {
		t.Errorf("Expected the modified file to be rehashed, got %d hashed", result.FilesHashed)
	}

	_, after, ok := cache.Get(absPath)
	if !ok {
		t.Fatal("Cache entry vanished")
	}
	if bytes.Equal(before, after) {
		t.Error("Fingerprint not updated after modification")
	}
}

func TestScanner_MTimeMonotonicityLimitation(t *testing.T) {
	// A file rewritten with an identical or earlier mtime is treated as
	// unchanged. This is the documented trade-off of the mtime skip rule.
	tempDir := t.TempDir()
	path := writeFile(t, filepath.Join(tempDir, "a.txt"), "hello")
	absPath, _ := CanonicalPath(path)

	cache := NewHashCache(DefaultHashAlgorithm())
	if _, _, err := scanOnce(t, cache, "", []string{tempDir}); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}
	_, before, _ := cache.Get(absPath)

	writeFile(t, path, "different content")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	result, _, err := scanOnce(t, cache, "", []string{tempDir})
	if err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}
	if result.FilesHashed != 0 {
		t.Errorf("Expected backdated rewrite to be skipped, got %d hashed", result.FilesHashed)
	}
	_, after, _ := cache.Get(absPath)
	if !bytes.Equal(before, after) {
		t.Error("Fingerprint changed although the file was skipped")
	}
}

func TestScanner_SkipsCacheFile(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "a.txt"), "hello")
	cacheFile := writeFile(t, filepath.Join(tempDir, "cache.txt"), "dedup 1.0 md5\n0\n")
	absCacheFile, _ := CanonicalPath(cacheFile)

	cache := NewHashCache(DefaultHashAlgorithm())
	result, _, err := scanOnce(t, cache, absCacheFile, []string{tempDir})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if result.FilesSeen != 1 {
		t.Errorf("Expected cache file to be excluded from the scan, saw %d files", result.FilesSeen)
	}
	if _, _, ok := cache.Get(absCacheFile); ok {
		t.Error("The cache file must never be hashed into itself")
	}
}

func TestScanner_SkipsSymlinksAndWarnsNonRegular(t *testing.T) {
	tempDir := t.TempDir()
	target := writeFile(t, filepath.Join(tempDir, "a.txt"), "hello")

	if err := os.Symlink(target, filepath.Join(tempDir, "link")); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}
	if err := unix.Mkfifo(filepath.Join(tempDir, "fifo"), 0644); err != nil {
		t.Fatalf("Mkfifo failed: %v", err)
	}

	cache := NewHashCache(DefaultHashAlgorithm())
	result, warnings, err := scanOnce(t, cache, "", []string{tempDir})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if result.FilesSeen != 1 {
		t.Errorf("Expected only the regular file to be seen, got %d", result.FilesSeen)
	}
	if cache.Len() != 1 {
		t.Errorf("Expected 1 cache entry, got %d", cache.Len())
	}
	// The fifo produces a warning, the symlink is skipped silently
	if len(warnings) != 1 {
		t.Errorf("Expected exactly one warning (for the fifo), got %d", len(warnings))
	}
}

func TestScanner_SymlinkedPathSharesCacheKeys(t *testing.T) {
	tempDir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks failed: %v", err)
	}
	realDir := filepath.Join(tempDir, "real")
	writeFile(t, filepath.Join(realDir, "sub", "a.txt"), "hello")
	writeFile(t, filepath.Join(realDir, "sub", "b.txt"), "world")
	if err := os.Symlink(realDir, filepath.Join(tempDir, "link")); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	cache := NewHashCache(DefaultHashAlgorithm())
	result, _, err := scanOnce(t, cache, "", []string{filepath.Join(realDir, "sub")})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.FilesHashed != 2 {
		t.Fatalf("Expected 2 files hashed, got %d", result.FilesHashed)
	}

	// Rescanning the same directory through a symlinked component must hit
	// the existing entries, not create doubles under a second key.
	result, _, err = scanOnce(t, cache, "", []string{filepath.Join(tempDir, "link", "sub")})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.CacheHits != 2 || result.FilesHashed != 0 {
		t.Errorf("Expected 2 cache hits through the symlink, got %+v", result)
	}
	if cache.Len() != 2 {
		t.Errorf("Expected 2 cache entries, got %d", cache.Len())
	}
}

func TestScanner_NewlinePathIsFatal(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "bad\nname"), "data")

	cache := NewHashCache(DefaultHashAlgorithm())
	_, _, err := scanOnce(t, cache, "", []string{tempDir})

	var pathErr *PathEncodingError
	if !errors.As(err, &pathErr) {
		t.Fatalf("Expected *PathEncodingError, got: %v", err)
	}
}

func TestScanner_UnreadableFileIsWarning(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}

	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "ok.txt"), "fine")
	locked := writeFile(t, filepath.Join(tempDir, "locked.txt"), "secret")
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}

	cache := NewHashCache(DefaultHashAlgorithm())
	result, warnings, err := scanOnce(t, cache, "", []string{tempDir})
	if err != nil {
		t.Fatalf("A single unreadable file must not stop the scan: %v", err)
	}

	// Both files are submitted; the unreadable one fails in the worker and
	// only produces a warning.
	if result.FilesHashed != 2 {
		t.Errorf("Expected 2 submissions, got %d", result.FilesHashed)
	}
	if cache.Len() != 1 {
		t.Errorf("Expected 1 cache entry, got %d", cache.Len())
	}
	if len(warnings) == 0 {
		t.Error("Expected a warning for the unreadable file")
	}
}

func TestScanner_InterruptStopsScan(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "a.txt"), "hello")

	shutdownChan := make(chan struct{})
	close(shutdownChan)

	cache := NewHashCache(DefaultHashAlgorithm())
	pool := NewWorkerPool(1, cache.Algorithm(), DefaultHashBuffer, nil)
	defer pool.Shutdown()
	scanner := NewScanner(cache, pool, "", shutdownChan)

	if _, err := scanner.Scan([]string{tempDir}); err == nil {
		t.Error("Expected scan to stop when the shutdown channel is closed")
	}
}
