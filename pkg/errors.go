package dedup

import (
	"encoding/hex"
	"fmt"
)

// FormatError indicates the persisted cache file is malformed or was written
// by an incompatible tool or format version. It is fatal: a cache that cannot
// be parsed completely must never be partially trusted.
type FormatError struct {
	Path   string // cache file path
	Line   int    // 1-based line number, 0 if not line-specific
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid cache file %s, line %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("invalid cache file %s: %s", e.Path, e.Reason)
}

// StaleCacheError indicates the verification copy's live fingerprint no longer
// matches the cached one. The removal run must abort without deleting anything:
// a stale cache must never cause data loss.
type StaleCacheError struct {
	TargetPath string // target-directory file that was about to be removed
	CopyPath   string // external copy whose fingerprint was recomputed
	Cached     []byte
	Actual     []byte
}

func (e *StaleCacheError) Error() string {
	return fmt.Sprintf("outdated cache, fingerprint mismatch for %s: cached %s, actual %s",
		e.CopyPath, hex.EncodeToString(e.Cached), hex.EncodeToString(e.Actual))
}

// PathEncodingError indicates a scanned path contains a newline byte. The
// persisted cache format is line-delimited, so such a path would corrupt it.
type PathEncodingError struct {
	Path string
}

func (e *PathEncodingError) Error() string {
	return fmt.Sprintf("path contains a newline: %q", e.Path)
}
