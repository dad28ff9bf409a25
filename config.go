package recall

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds tunable settings for a Cache instance.
// Start from DefaultConfig() or LoadConfig() rather than the zero value.
type Config struct {
	// MaxMemoryMB caps the memory charged to cached payloads, in megabytes.
	// Exceeding it triggers an eviction pass.
	MaxMemoryMB int

	// MaxItems caps the number of resident entries.
	MaxItems int

	// DefaultTTL applies to entries stored without an explicit TTL.
	// Zero means entries never expire unless a Set says otherwise.
	DefaultTTL time.Duration

	// CleanupInterval is the period of the expired-entry sweep.
	CleanupInterval time.Duration

	// SemanticThreshold is the minimum cosine similarity for a semantic
	// match, in (0, 1].
	SemanticThreshold float64

	// EnableSemantic turns the similarity index and the semantic lookup
	// stage on.
	EnableSemantic bool

	// EnablePredictive turns access-pattern tracking and the predictive
	// lookup stage on.
	EnablePredictive bool

	// EnableMetrics turns throughput sampling and OpenTelemetry
	// instrument recording on. Logical counters are always maintained.
	EnableMetrics bool

	// PersistToDisk enables periodic snapshots and restore on startup.
	PersistToDisk bool

	// CacheDir is where the default file store keeps snapshots.
	CacheDir string
}

// DefaultConfig returns the standard cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxMemoryMB:       100,
		MaxItems:          10000,
		DefaultTTL:        time.Hour,
		CleanupInterval:   5 * time.Minute,
		SemanticThreshold: 0.75,
		EnableSemantic:    true,
		EnablePredictive:  true,
		EnableMetrics:     true,
		PersistToDisk:     true,
		CacheDir:          defaultCacheDir(),
	}
}

// defaultCacheDir places snapshots under the user cache directory, falling
// back to the system temp directory.
func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "recall")
}

// MaxMemoryBytes returns the memory budget in bytes.
func (c Config) MaxMemoryBytes() int64 {
	return int64(c.MaxMemoryMB) * 1024 * 1024
}

// Validate checks the configuration for usable values. Returned errors
// match ErrInvalidConfig via errors.Is.
func (c Config) Validate() error {
	if c.MaxMemoryMB <= 0 {
		return fmt.Errorf("%w: MaxMemoryMB must be positive, got %d", ErrInvalidConfig, c.MaxMemoryMB)
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("%w: MaxItems must be positive, got %d", ErrInvalidConfig, c.MaxItems)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("%w: DefaultTTL must not be negative, got %s", ErrInvalidConfig, c.DefaultTTL)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: CleanupInterval must be positive, got %s", ErrInvalidConfig, c.CleanupInterval)
	}
	if c.SemanticThreshold <= 0 || c.SemanticThreshold > 1 {
		return fmt.Errorf("%w: SemanticThreshold must be in (0, 1], got %g", ErrInvalidConfig, c.SemanticThreshold)
	}
	if c.PersistToDisk && c.CacheDir == "" {
		return fmt.Errorf("%w: CacheDir is required when PersistToDisk is enabled", ErrInvalidConfig)
	}
	return nil
}

// fileConfig mirrors Config for YAML parsing. Pointer fields distinguish
// unset keys, which inherit defaults. Durations are Go duration strings
// (e.g. "300s", "5m").
type fileConfig struct {
	MaxMemoryMB       *int     `yaml:"max_memory_mb"`
	MaxItems          *int     `yaml:"max_items"`
	DefaultTTL        *string  `yaml:"default_ttl"`
	CleanupInterval   *string  `yaml:"cleanup_interval"`
	SemanticThreshold *float64 `yaml:"semantic_threshold"`
	EnableSemantic    *bool    `yaml:"enable_semantic"`
	EnablePredictive  *bool    `yaml:"enable_predictive"`
	EnableMetrics     *bool    `yaml:"enable_metrics"`
	PersistToDisk     *bool    `yaml:"persist_to_disk"`
	CacheDir          *string  `yaml:"cache_dir"`
}

// LoadConfig reads and parses a YAML configuration file from the given path.
// Keys absent from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, NewConfigurationError("LoadConfig", fmt.Errorf("read config file: %w", err))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, NewConfigurationError("LoadConfig", fmt.Errorf("parse config file: %w", err))
	}

	if fc.MaxMemoryMB != nil {
		cfg.MaxMemoryMB = *fc.MaxMemoryMB
	}
	if fc.MaxItems != nil {
		cfg.MaxItems = *fc.MaxItems
	}
	if fc.DefaultTTL != nil {
		d, err := time.ParseDuration(*fc.DefaultTTL)
		if err != nil {
			return Config{}, NewConfigurationError("LoadConfig", fmt.Errorf("parse default_ttl: %w", err))
		}
		cfg.DefaultTTL = d
	}
	if fc.CleanupInterval != nil {
		d, err := time.ParseDuration(*fc.CleanupInterval)
		if err != nil {
			return Config{}, NewConfigurationError("LoadConfig", fmt.Errorf("parse cleanup_interval: %w", err))
		}
		cfg.CleanupInterval = d
	}
	if fc.SemanticThreshold != nil {
		cfg.SemanticThreshold = *fc.SemanticThreshold
	}
	if fc.EnableSemantic != nil {
		cfg.EnableSemantic = *fc.EnableSemantic
	}
	if fc.EnablePredictive != nil {
		cfg.EnablePredictive = *fc.EnablePredictive
	}
	if fc.EnableMetrics != nil {
		cfg.EnableMetrics = *fc.EnableMetrics
	}
	if fc.PersistToDisk != nil {
		cfg.PersistToDisk = *fc.PersistToDisk
	}
	if fc.CacheDir != nil {
		cfg.CacheDir = *fc.CacheDir
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, NewConfigurationError("LoadConfig", err)
	}

	return cfg, nil
}
