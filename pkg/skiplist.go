package dedup

import (
	"strings"

	zcsl "github.com/mattkeenan/zerocopyskiplist"
)

// entryView is a path-ordered skiplist over cache entries with context
// tracking (CacheContext for entries loaded from disk, ScanContext for
// entries hashed this run). It is built on demand from the live cache and
// discarded after one persist or resolution pass.
type entryView struct {
	skiplist *zcsl.ZeroCopySkiplist[CacheEntry, string, string]
}

// newEntryView creates an empty view
func newEntryView(maxLevels int) *entryView {
	if maxLevels < 8 {
		maxLevels = 16 // reasonable default
	}

	getKeyFromItem := func(entry *CacheEntry) string {
		return entry.Path
	}

	// Size function for serialization: the encoded record length
	getItemSize := func(entry *CacheEntry) int {
		return len(entry.encode())
	}

	cmpKey := func(a, b string) int {
		return strings.Compare(a, b)
	}

	return &entryView{
		skiplist: zcsl.MakeZeroCopySkiplist[CacheEntry, string, string](
			maxLevels,
			getKeyFromItem,
			getItemSize,
			cmpKey,
		),
	}
}

// Insert adds an entry with the given context
func (v *entryView) Insert(entry *CacheEntry, context string) bool {
	return v.skiplist.Insert(entry, context)
}

// Find returns the entry for a path, or nil
func (v *entryView) Find(path string) (*CacheEntry, string) {
	node, context := v.skiplist.Find(path)
	if node != nil {
		return node.Item(), context
	}
	return nil, ""
}

// ForEach iterates through all entries in sorted path order with a callback
func (v *entryView) ForEach(callback func(*CacheEntry, string) bool) {
	for current := v.skiplist.First(); current != nil; current = current.Next() {
		if !callback(current.Item(), current.Context()) {
			break
		}
	}
}

// Length returns the number of entries in the view
func (v *entryView) Length() int {
	return v.skiplist.Length()
}

// Stats returns per-context entry counts
func (v *entryView) Stats() (cached, scanned int) {
	v.ForEach(func(entry *CacheEntry, context string) bool {
		if context == ScanContext {
			scanned++
		} else {
			cached++
		}
		return true
	})
	return cached, scanned
}
