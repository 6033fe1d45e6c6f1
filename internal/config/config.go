package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: PROJECTRAG_EMBEDDING__BATCH_SIZE.
const EnvPrefix = "PROJECTRAG_"

// Config is the top-level projectrag configuration
type Config struct {
	DBPath    string          `yaml:"db_path" koanf:"db_path"`
	Embedding EmbeddingConfig `yaml:"embedding" koanf:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking" koanf:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval" koanf:"retrieval"`
	Backfill  BackfillConfig  `yaml:"backfill" koanf:"backfill"`
	Log       LogConfig       `yaml:"log" koanf:"log"`
}

// EmbeddingConfig configures the provider and batching
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" koanf:"provider"`
	APIKey            string        `yaml:"api_key,omitempty" koanf:"api_key"`
	Model             string        `yaml:"model" koanf:"model"`
	Dimension         int           `yaml:"dimension" koanf:"dimension"`
	BatchSize         int           `yaml:"batch_size" koanf:"batch_size"`
	CallTimeout       time.Duration `yaml:"call_timeout" koanf:"call_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" koanf:"requests_per_minute"`
	CacheSize         int           `yaml:"cache_size" koanf:"cache_size"`
	BreakerFailures   uint32        `yaml:"breaker_failures" koanf:"breaker_failures"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown" koanf:"breaker_cooldown"`
}

// ChunkingConfig configures the document chunk window
type ChunkingConfig struct {
	MaxLen  int `yaml:"max_len" koanf:"max_len"`
	Overlap int `yaml:"overlap" koanf:"overlap"`
}

// RetrievalConfig bounds nearest-neighbor queries. A CacheTTL of zero
// disables the query cache.
type RetrievalConfig struct {
	DefaultK  int           `yaml:"default_k" koanf:"default_k"`
	MaxK      int           `yaml:"max_k" koanf:"max_k"`
	CacheSize int           `yaml:"cache_size" koanf:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl" koanf:"cache_ttl"`
}

// BackfillConfig configures periodic sync and pending-document draining.
// An Interval of zero disables the scheduler.
type BackfillConfig struct {
	Interval time.Duration `yaml:"interval" koanf:"interval"`
	Workers  int           `yaml:"workers" koanf:"workers"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (PROJECTRAG_*). A missing file is not an
// error; an empty path skips the file entirely.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// envKey maps PROJECTRAG_EMBEDDING__BATCH_SIZE to embedding.batch_size
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validProviders = map[string]bool{
	"":       true, // auto-detect
	"jina":   true,
	"openai": true,
	"local":  true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Validate checks that the configuration contains valid values
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	if !validProviders[strings.ToLower(c.Embedding.Provider)] {
		return fmt.Errorf("invalid embedding.provider %q: must be one of jina, openai, local", c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("embedding.dimension must be non-negative")
	}
	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 100 {
		return fmt.Errorf("embedding.batch_size must be between 1 and 100, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.CallTimeout <= 0 {
		return fmt.Errorf("embedding.call_timeout must be positive")
	}
	if c.Embedding.RequestsPerMinute < 0 {
		return fmt.Errorf("embedding.requests_per_minute must be non-negative")
	}
	if c.Embedding.CacheSize < 0 {
		return fmt.Errorf("embedding.cache_size must be non-negative")
	}

	if c.Chunking.MaxLen <= 0 {
		return fmt.Errorf("chunking.max_len must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxLen {
		return fmt.Errorf("chunking.overlap must be in [0, max_len), got %d", c.Chunking.Overlap)
	}

	if c.Retrieval.MaxK <= 0 {
		return fmt.Errorf("retrieval.max_k must be positive")
	}
	if c.Retrieval.DefaultK <= 0 || c.Retrieval.DefaultK > c.Retrieval.MaxK {
		return fmt.Errorf("retrieval.default_k must be in [1, max_k], got %d", c.Retrieval.DefaultK)
	}
	if c.Retrieval.CacheTTL < 0 || c.Retrieval.CacheSize < 0 {
		return fmt.Errorf("retrieval.cache_size and retrieval.cache_ttl must be non-negative")
	}

	if c.Backfill.Interval < 0 {
		return fmt.Errorf("backfill.interval must be non-negative")
	}
	if c.Backfill.Workers < 1 {
		return fmt.Errorf("backfill.workers must be at least 1")
	}

	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		return fmt.Errorf("invalid log.format %q: must be json or text", c.Log.Format)
	}

	return nil
}
