package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns a Config populated with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DBPath: defaultDBPath(),
		Embedding: EmbeddingConfig{
			BatchSize:       20,
			CallTimeout:     30 * time.Second,
			CacheSize:       1000,
			BreakerFailures: 5,
			BreakerCooldown: 60 * time.Second,
		},
		Chunking: ChunkingConfig{
			MaxLen:  1000,
			Overlap: 200,
		},
		Retrieval: RetrievalConfig{
			DefaultK:  8,
			MaxK:      50,
			CacheSize: 1000,
			CacheTTL:  30 * time.Second,
		},
		Backfill: BackfillConfig{
			Interval: 10 * time.Minute,
			Workers:  4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// defaultDBPath returns ~/.projectrag/projectrag.db, or a relative path when
// the home directory cannot be resolved
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "projectrag.db"
	}
	return filepath.Join(home, ".projectrag", "projectrag.db")
}
