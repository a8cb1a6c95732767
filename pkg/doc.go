// Package dedup locates duplicate files across directory trees by content
// fingerprint and safely removes redundant copies from a designated
// directory. Fingerprints are persisted in a cache keyed by absolute path,
// so repeated runs over slowly-changing collections only rehash files whose
// modification time moved forward.
//
// # Core API
//
// Load (or start) a cache, scan roots through a worker pool, persist:
//
//	algorithm := dedup.DefaultHashAlgorithm()
//	cache, err := dedup.LoadCache(cacheFile, algorithm, dedup.DefaultMaxCacheAge, decide)
//	pool := dedup.NewWorkerPool(dedup.DetectWorkers(0), algorithm, dedup.DefaultHashBuffer, nil)
//	scanner := dedup.NewScanner(cache, pool, cacheFile, nil)
//	result, err := scanner.Scan([]string{"/data"})
//	pool.Shutdown()
//	err = cache.Persist(cacheFile)
//
// Resolve duplicates inside a target directory:
//
//	resolver := dedup.NewResolver(cache, dedup.DefaultHashBuffer)
//	removal, err := resolver.RemoveDuplicates("/data/incoming", false)
//
// Before any removal, the resolver rehashes one external copy per duplicate
// group; if the live fingerprint disagrees with the cache, the run aborts
// with *StaleCacheError and deletes nothing.
//
// # Known limitation
//
// A file rewritten with an identical or earlier modification time is treated
// as unchanged; the cache trusts mtime monotonicity.
package dedup
