package dedup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-ini/ini"
)

// Config represents the dedup configuration
type Config struct {
	configPath string
	ini        *ini.File
}

// CacheConfig represents persisted cache configuration
type CacheConfig struct {
	Path   string // Cache file location
	MaxAge string // Maximum cache age before the staleness prompt (e.g. "1h")
}

// HashConfig represents hash algorithm configuration
type HashConfig struct {
	Default string // Default hash algorithm
}

// OutputConfig represents output format configuration
type OutputConfig struct {
	Format string // Default output format: human, json
}

// VerboseConfig represents verbosity configuration
type VerboseConfig struct {
	Level int    // Default verbose level (0=quiet, 1=basic, 2=detailed)
	Debug string // Default debug flags (comma-separated)
}

// PerformanceConfig represents performance-related configuration
type PerformanceConfig struct {
	HashWorkers int    // Number of concurrent hash workers (0 = detected parallelism)
	HashBuffer  string // Hash buffer size for streaming hashing (default: "256k")
}

// LoadConfig loads configuration from the given directory's config file,
// creating one with defaults on first use
func LoadConfig(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, "config")

	cfg := &Config{
		configPath: configPath,
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.ini = ini.Empty()
		if err := cfg.setDefaults(); err != nil {
			return nil, fmt.Errorf("failed to set default config: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	} else {
		iniFile, err := ini.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg.ini = iniFile
	}

	return cfg, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() error {
	cacheSection, err := c.ini.NewSection("cache")
	if err != nil {
		return fmt.Errorf("failed to create cache section: %w", err)
	}
	if _, err = cacheSection.NewKey("path", DefaultCacheFile); err != nil {
		return fmt.Errorf("failed to set default cache path: %w", err)
	}
	if _, err = cacheSection.NewKey("max_age", "1h"); err != nil {
		return fmt.Errorf("failed to set default cache max_age: %w", err)
	}

	fileHashSection, err := c.ini.NewSection("filehash")
	if err != nil {
		return fmt.Errorf("failed to create filehash section: %w", err)
	}
	if _, err = fileHashSection.NewKey("default", "md5"); err != nil {
		return fmt.Errorf("failed to set default hash algorithm: %w", err)
	}

	outputSection, err := c.ini.NewSection("output")
	if err != nil {
		return fmt.Errorf("failed to create output section: %w", err)
	}
	if _, err = outputSection.NewKey("format", "human"); err != nil {
		return fmt.Errorf("failed to set default output format: %w", err)
	}

	verboseSection, err := c.ini.NewSection("verbose")
	if err != nil {
		return fmt.Errorf("failed to create verbose section: %w", err)
	}
	if _, err = verboseSection.NewKey("level", "0"); err != nil {
		return fmt.Errorf("failed to set default verbose level: %w", err)
	}
	if _, err = verboseSection.NewKey("debug", ""); err != nil {
		return fmt.Errorf("failed to set default debug flags: %w", err)
	}

	performanceSection, err := c.ini.NewSection("performance")
	if err != nil {
		return fmt.Errorf("failed to create performance section: %w", err)
	}
	if _, err = performanceSection.NewKey("hash_workers", "0"); err != nil {
		return fmt.Errorf("failed to set default hash workers: %w", err)
	}
	if _, err = performanceSection.NewKey("hash_buffer", "256k"); err != nil {
		return fmt.Errorf("failed to set default hash buffer: %w", err)
	}

	return nil
}

// Save writes the configuration back to disk
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := c.ini.SaveTo(c.configPath); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// GetCacheConfig returns the cache configuration
func (c *Config) GetCacheConfig() *CacheConfig {
	cacheConfig := &CacheConfig{
		Path:   DefaultCacheFile, // fallback default
		MaxAge: "1h",             // fallback default
	}

	if c.ini.HasSection("cache") {
		section := c.ini.Section("cache")
		if section.HasKey("path") {
			cacheConfig.Path = section.Key("path").String()
		}
		if section.HasKey("max_age") {
			cacheConfig.MaxAge = section.Key("max_age").String()
		}
	}

	return cacheConfig
}

// GetHashConfig returns the hash configuration
func (c *Config) GetHashConfig() *HashConfig {
	hashConfig := &HashConfig{
		Default: "md5", // fallback default
	}

	if c.ini.HasSection("filehash") {
		section := c.ini.Section("filehash")
		if section.HasKey("default") {
			hashConfig.Default = section.Key("default").String()
		}
	}

	return hashConfig
}

// GetOutputConfig returns the output configuration
func (c *Config) GetOutputConfig() *OutputConfig {
	outputConfig := &OutputConfig{
		Format: "human", // fallback default
	}

	if c.ini.HasSection("output") {
		section := c.ini.Section("output")
		if section.HasKey("format") {
			outputConfig.Format = section.Key("format").String()
		}
	}

	return outputConfig
}

// GetVerboseConfig returns the verbose configuration
func (c *Config) GetVerboseConfig() *VerboseConfig {
	verboseConfig := &VerboseConfig{}

	if c.ini.HasSection("verbose") {
		section := c.ini.Section("verbose")
		if section.HasKey("level") {
			if level, err := section.Key("level").Int(); err == nil {
				verboseConfig.Level = level
			}
		}
		if section.HasKey("debug") {
			verboseConfig.Debug = section.Key("debug").String()
		}
	}

	return verboseConfig
}

// GetPerformanceConfig returns the performance configuration
func (c *Config) GetPerformanceConfig() *PerformanceConfig {
	performanceConfig := &PerformanceConfig{
		HashWorkers: 0,      // fallback default: detected parallelism
		HashBuffer:  "256k", // fallback default
	}

	if c.ini.HasSection("performance") {
		section := c.ini.Section("performance")
		if section.HasKey("hash_workers") {
			if workers, err := section.Key("hash_workers").Int(); err == nil {
				performanceConfig.HashWorkers = workers
			}
		}
		if section.HasKey("hash_buffer") {
			performanceConfig.HashBuffer = section.Key("hash_buffer").String()
		}
	}

	return performanceConfig
}
