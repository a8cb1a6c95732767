package dedup

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// DuplicateGroup collects the paths outside the target directory that share
// one fingerprint. Files is in sorted path order, so the first element is
// always the same file for a given cache state (the verification copy).
type DuplicateGroup struct {
	Fingerprint string // hex
	Files       []string
}

// Duplicate pairs a target-directory file with the external copies whose
// shared content justifies its removal.
type Duplicate struct {
	Path        string   `json:"path"`
	Fingerprint string   `json:"fingerprint"` // hex
	Copies      []string `json:"copies"`
}

// RemovalResult reports the outcome of a duplicate-resolution pass. Zero
// duplicates found is a normal outcome, not an error.
type RemovalResult struct {
	DuplicatesFound  int
	FilesRemoved     int
	DirectoryRemoved bool
}

// RemovalReport is the machine-readable form of a resolution pass, emitted
// by the CLI when the output format is json.
type RemovalReport struct {
	TargetDir        string       `json:"target_dir"`
	Duplicates       []*Duplicate `json:"duplicates"`
	FilesRemoved     int          `json:"files_removed"`
	DirectoryRemoved bool         `json:"directory_removed"`
}

// Resolver identifies files inside a target directory whose content also
// exists elsewhere in the cache, and optionally removes them. Before any
// deletion the fingerprint of each verification copy is recomputed live;
// the cache is never trusted for the file that justifies a deletion.
type Resolver struct {
	cache      *HashCache
	bufferSize int

	// OnVerify, when set, is invoked before a verification copy is rehashed
	OnVerify func(copyPath string)

	// OnDuplicate, when set, is invoked for each confirmed duplicate
	OnDuplicate func(dup *Duplicate)
}

// NewResolver creates a resolver over a fully populated cache
func NewResolver(cache *HashCache, bufferSize int) *Resolver {
	return &Resolver{
		cache:      cache,
		bufferSize: bufferSize,
	}
}

// targetEntry is one cache entry whose parent directory is the target
type targetEntry struct {
	path        string
	fingerprint []byte
}

// partition splits the cache into entries directly inside targetDir and
// groups of everything else keyed by fingerprint. Iteration over the sorted
// view makes both the target order and the group order deterministic.
func (r *Resolver) partition(targetDir string) ([]targetEntry, map[string]*DuplicateGroup) {
	var targets []targetEntry
	elsewhere := make(map[string]*DuplicateGroup)

	r.cache.SortedView().ForEach(func(entry *CacheEntry, context string) bool {
		if filepath.Dir(entry.Path) == targetDir {
			targets = append(targets, targetEntry{path: entry.Path, fingerprint: entry.Fingerprint})
		} else {
			key := string(entry.Fingerprint)
			group, ok := elsewhere[key]
			if !ok {
				group = &DuplicateGroup{Fingerprint: hex.EncodeToString(entry.Fingerprint)}
				elsewhere[key] = group
			}
			group.Files = append(group.Files, entry.Path)
		}
		return true
	})

	return targets, elsewhere
}

// RemoveDuplicates finds every file directly inside targetDir whose
// fingerprint matches at least one file elsewhere in the cache. targetDir
// is canonicalized the same way scan paths are, so a symlinked target
// matches the cache keys. When remove is false (dry run) duplicates are
// only reported.
//
// Verification runs as a separate pass before any deletion: the first file
// of each matching group is rehashed, and a mismatch aborts the whole run
// with a *StaleCacheError while no file has been touched. On removal the
// cache entry is dropped along with the file; a file already gone is
// tolerated. Afterwards the now-possibly-empty target directory itself is
// removed, silently tolerating failure.
func (r *Resolver) RemoveDuplicates(targetDir string, remove bool) (*RemovalResult, error) {
	result := &RemovalResult{}

	targetDir, err := CanonicalPath(targetDir)
	if err != nil {
		return result, err
	}

	targets, elsewhere := r.partition(targetDir)

	// Verification pass: rehash each distinct verification copy before
	// anything is deleted, so a stale cache aborts with zero removals.
	verified := make(map[string]bool)
	for _, target := range targets {
		group := elsewhere[string(target.fingerprint)]
		if group == nil {
			continue
		}
		copyPath := group.Files[0]
		if verified[copyPath] {
			continue
		}

		VerboseLog(2, "RemoveDuplicates: checking live fingerprint of %s", copyPath)
		if r.OnVerify != nil {
			r.OnVerify(copyPath)
		}
		actual, err := HashFile(copyPath, r.cache.Algorithm(), r.bufferSize)
		if err != nil {
			return result, fmt.Errorf("failed to verify copy %s: %w", copyPath, err)
		}
		if !bytes.Equal(actual, target.fingerprint) {
			return result, &StaleCacheError{
				TargetPath: target.path,
				CopyPath:   copyPath,
				Cached:     target.fingerprint,
				Actual:     actual,
			}
		}
		verified[copyPath] = true
	}

	// Removal pass
	for _, target := range targets {
		group := elsewhere[string(target.fingerprint)]
		if group == nil {
			// No known duplicate, leave untouched
			continue
		}

		result.DuplicatesFound++
		if r.OnDuplicate != nil {
			r.OnDuplicate(&Duplicate{
				Path:        target.path,
				Fingerprint: group.Fingerprint,
				Copies:      group.Files,
			})
		}

		if !remove {
			continue
		}

		VerboseLog(3, "RemoveDuplicates: removing %s", target.path)
		r.cache.Remove(target.path)
		if err := os.Remove(target.path); err != nil && !os.IsNotExist(err) {
			return result, fmt.Errorf("failed to remove duplicate %s: %w", target.path, err)
		}
		result.FilesRemoved++
	}

	if remove {
		// Best effort: only succeeds once the directory is empty
		if err := os.Remove(targetDir); err == nil {
			result.DirectoryRemoved = true
		}
	}

	return result, nil
}
