package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	dedup "github.com/mattkeenan/dedup/pkg"
)

// Exit codes: a stale-cache refusal is distinct from a generic failure so an
// operator can tell "nothing to do" from "refused due to inconsistency".
const (
	exitError      = 1
	exitStaleCache = 2
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(exitError)
	}

	if os.Args[1] == "--help" || os.Args[1] == "-h" || os.Args[1] == "help" {
		showHelp()
		return
	}

	app, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dedup: %v\n", err)
		os.Exit(exitError)
	}

	switch os.Args[1] {
	case "scan":
		err = app.runScan(os.Args[2:])
	case "remove-dir":
		err = app.runRemoveDir(os.Args[2:])
	case "remove-cache":
		err = app.runRemoveCache()
	default:
		fmt.Fprintf(os.Stderr, "dedup: unknown command %q\n", os.Args[1])
		showUsage()
		os.Exit(exitError)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "dedup: %v\n", err)
		var staleErr *dedup.StaleCacheError
		if errors.As(err, &staleErr) {
			os.Exit(exitStaleCache)
		}
		os.Exit(exitError)
	}
}

func showUsage() {
	fmt.Fprintf(os.Stderr, "Usage: dedup scan DIRECTORY...\n")
	fmt.Fprintf(os.Stderr, "       dedup remove-dir [--remove] DIRECTORY\n")
	fmt.Fprintf(os.Stderr, "       dedup remove-cache\n")
	fmt.Fprintf(os.Stderr, "Try 'dedup --help' for more information.\n")
}

func showHelp() {
	fmt.Printf("dedup - find duplicate files by content fingerprint\n\n")
	fmt.Printf("Usage:\n")
	fmt.Printf("  dedup scan DIRECTORY...         Hash files beneath each directory into the cache\n")
	fmt.Printf("  dedup remove-dir DIRECTORY      Report files in DIRECTORY duplicated elsewhere\n")
	fmt.Printf("  dedup remove-dir --remove DIR   Really delete the duplicated files\n")
	fmt.Printf("  dedup remove-cache              Delete the persisted fingerprint cache\n\n")
	fmt.Printf("Fingerprints are cached and reused while a file's modification time is\n")
	fmt.Printf("unchanged, so repeated scans only hash new or modified files.\n\n")
	fmt.Printf("Configuration is read from the 'config' file in the dedup user config\n")
	fmt.Printf("directory: cache path and max age, hash algorithm, worker count,\n")
	fmt.Printf("hash buffer size, verbosity.\n")
}

// app carries the resolved configuration shared by all subcommands
type app struct {
	config     *dedup.Config
	algorithm  *dedup.HashAlgorithm
	bufferSize int
	workers    int
	cacheFile  string
	maxAge     time.Duration
}

func newApp() (*app, error) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate user config directory: %w", err)
	}

	config, err := dedup.LoadConfig(filepath.Join(userConfigDir, "dedup"))
	if err != nil {
		return nil, err
	}

	verboseConfig := config.GetVerboseConfig()
	dedup.SetVerboseLevel(verboseConfig.Level)
	dedup.SetDebugFlags(verboseConfig.Debug)

	algorithm, err := dedup.GetHashAlgorithm(config.GetHashConfig().Default)
	if err != nil {
		return nil, err
	}

	performanceConfig := config.GetPerformanceConfig()
	bufferSize, err := dedup.ParseHumanSize(performanceConfig.HashBuffer)
	if err != nil {
		return nil, fmt.Errorf("invalid hash_buffer setting: %w", err)
	}

	cacheConfig := config.GetCacheConfig()
	cachePath, err := dedup.ExpandUser(cacheConfig.Path)
	if err != nil {
		return nil, err
	}
	cacheFile, err := dedup.CanonicalPath(cachePath)
	if err != nil {
		return nil, err
	}

	maxAge, err := time.ParseDuration(cacheConfig.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("invalid cache max_age setting: %w", err)
	}

	return &app{
		config:     config,
		algorithm:  algorithm,
		bufferSize: bufferSize,
		workers:    dedup.DetectWorkers(performanceConfig.HashWorkers),
		cacheFile:  cacheFile,
		maxAge:     maxAge,
	}, nil
}

// loadCache reads the persisted cache, asking the operator about an old one
func (a *app) loadCache() (*dedup.HashCache, error) {
	cache, err := dedup.LoadCache(a.cacheFile, a.algorithm, a.maxAge, promptStaleCache)
	if err != nil {
		return nil, err
	}
	if cache.Len() > 0 {
		fmt.Printf("Read cache file from %s (%d files)\n", a.cacheFile, cache.Len())
	}
	return cache, nil
}

// persistCache writes the cache back, even after a failed or interrupted run
func (a *app) persistCache(cache *dedup.HashCache) error {
	if cache.Len() == 0 {
		return nil
	}
	if err := cache.Persist(a.cacheFile); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	fmt.Printf("Write cache file into %s (%d files)\n", a.cacheFile, cache.Len())
	return nil
}

func (a *app) runScan(directories []string) error {
	if len(directories) == 0 {
		return fmt.Errorf("scan requires at least one directory")
	}

	shutdownChan := setupSignalHandler()

	cache, err := a.loadCache()
	if err != nil {
		return err
	}

	fmt.Printf("Spawn %d hash workers\n", a.workers)
	pool := dedup.NewWorkerPool(a.workers, a.algorithm, a.bufferSize, shutdownChan)

	scanner := dedup.NewScanner(cache, pool, a.cacheFile, shutdownChan)
	scanner.OnHash = func(path string, size int64) {
		fmt.Printf("Hash %s (%s)\n", path, humanize.IBytes(uint64(size)))
	}

	startTime := time.Now()
	result, scanErr := scanner.Scan(directories)

	// Wait for in-flight hashes before reporting or persisting
	pool.Shutdown()

	select {
	case <-shutdownChan:
		fmt.Println()
		fmt.Println("Interrupted!")
		scanErr = nil // partial progress is kept, not an error
	default:
	}

	fmt.Printf("Scan completed in %s: %d files hashed, %d cache hits\n",
		time.Since(startTime).Round(time.Millisecond), result.FilesHashed, result.CacheHits)
	carried, scanned := cache.Stats()
	fmt.Printf("Cache holds %d files (%d carried over, %d from this run)\n",
		cache.Len(), carried, scanned)

	if err := a.persistCache(cache); err != nil {
		return err
	}
	return scanErr
}

func (a *app) runRemoveDir(args []string) error {
	removeRequested := false
	var directory string
	for _, arg := range args {
		switch {
		case arg == "--remove":
			removeRequested = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown option %q for remove-dir", arg)
		case directory != "":
			return fmt.Errorf("remove-dir takes exactly one directory")
		default:
			directory = arg
		}
	}
	if directory == "" {
		return fmt.Errorf("remove-dir requires a directory")
	}

	targetDir, err := dedup.CanonicalPath(directory)
	if err != nil {
		return err
	}

	cache, err := a.loadCache()
	if err != nil {
		return err
	}

	jsonOutput := a.config.GetOutputConfig().Format == "json"

	resolver := dedup.NewResolver(cache, a.bufferSize)
	var duplicates []*dedup.Duplicate
	if jsonOutput {
		resolver.OnDuplicate = func(dup *dedup.Duplicate) {
			duplicates = append(duplicates, dup)
		}
	} else {
		resolver.OnVerify = func(copyPath string) {
			fmt.Printf("Check copy %s fingerprint\n", copyPath)
		}
		resolver.OnDuplicate = func(dup *dedup.Duplicate) {
			fmt.Printf("Remove duplicate %s: keep %s\n", dup.Path, strings.Join(dup.Copies, ", "))
		}
	}

	result, resolveErr := resolver.RemoveDuplicates(targetDir, removeRequested)

	if jsonOutput {
		report := &dedup.RemovalReport{
			TargetDir:        targetDir,
			Duplicates:       duplicates,
			FilesRemoved:     result.FilesRemoved,
			DirectoryRemoved: result.DirectoryRemoved,
		}
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Println(string(encoded))
	} else {
		if result.FilesRemoved > 0 {
			fmt.Printf("Removed %d files\n", result.FilesRemoved)
		} else {
			fmt.Println("No file removed")
		}
		if result.DirectoryRemoved {
			fmt.Printf("Remove empty directory %s\n", targetDir)
		}
		if !removeRequested && result.DuplicatesFound > 0 {
			fmt.Println()
			fmt.Println("Now add --remove option to really remove files")
		}
	}

	// The cache is persisted even when the removal run was refused, so the
	// fingerprints accumulated so far are not lost.
	if err := a.persistCache(cache); err != nil {
		return err
	}
	return resolveErr
}

func (a *app) runRemoveCache() error {
	if err := os.Remove(a.cacheFile); err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("Cache file doesn't exist: %s\n", a.cacheFile)
			return nil
		}
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	fmt.Printf("Remove cache file %s\n", a.cacheFile)
	return nil
}
