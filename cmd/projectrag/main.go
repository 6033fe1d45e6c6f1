package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dshills/projectrag/internal/backfill"
	"github.com/dshills/projectrag/internal/chunker"
	"github.com/dshills/projectrag/internal/config"
	"github.com/dshills/projectrag/internal/embedder"
	"github.com/dshills/projectrag/internal/indexer"
	"github.com/dshills/projectrag/internal/logger"
	"github.com/dshills/projectrag/internal/mcp"
	"github.com/dshills/projectrag/internal/scheduler"
	"github.com/dshills/projectrag/internal/searcher"
	"github.com/dshills/projectrag/internal/storage"
	"github.com/dshills/projectrag/internal/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "print version information and exit")
		configPath  = flag.String("config", "", "path to a YAML config file")
		writeConfig = flag.String("write-config", "", "write the effective config to this path and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("projectrag MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	if *writeConfig != "" {
		if err := cfg.Save(*writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// stdout is reserved for the MCP protocol
	logger.InitLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Info("projectrag starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	provider, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Guard: embedder.GuardConfig{
			RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
			BreakerFailures:   cfg.Embedding.BreakerFailures,
			BreakerCooldown:   cfg.Embedding.BreakerCooldown,
		},
	})
	if err != nil {
		return fmt.Errorf("create embedding provider: %w", err)
	}
	defer func() { _ = provider.Close() }()

	var cache *embedder.Cache
	if cfg.Embedding.CacheSize > 0 {
		cache = embedder.NewCache(cfg.Embedding.CacheSize)
	}
	batcher := embedder.NewBatcher(provider, cache, embedder.BatcherConfig{
		BatchSize:   cfg.Embedding.BatchSize,
		CallTimeout: cfg.Embedding.CallTimeout,
	})
	logger.Info("embedding provider ready",
		"provider", batcher.ProviderName(),
		"dimension", batcher.Dimension(),
		"batch_size", batcher.BatchSize())

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(cfg.DBPath, batcher.Dimension())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	chk, err := chunker.New(cfg.Chunking.MaxLen, cfg.Chunking.Overlap)
	if err != nil {
		return fmt.Errorf("create chunker: %w", err)
	}

	srch := searcher.NewSearcher(store, batcher, metrics, searcher.Config{
		MaxK:      cfg.Retrieval.MaxK,
		CacheSize: cfg.Retrieval.CacheSize,
		CacheTTL:  cfg.Retrieval.CacheTTL,
	})

	idx := indexer.New(store, chk, batcher, metrics, indexer.Config{
		Workers:  cfg.Backfill.Workers,
		OnChange: srch.InvalidateCache,
	})
	recovered, err := idx.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted indexing: %w", err)
	}
	if len(recovered) > 0 {
		logger.Warn("documents left PROCESSING by a previous run marked FAILED", "documents", recovered)
	}
	orch := backfill.New(store, batcher, metrics, backfill.Config{BatchSize: cfg.Embedding.BatchSize})

	if cfg.Backfill.Interval > 0 {
		sched := scheduler.New(orch, idx, cfg.Backfill.Interval)
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	server, err := mcp.NewServer(mcp.Config{
		Version:  version,
		DefaultK: cfg.Retrieval.DefaultK,
		Storage:  store,
		Indexer:  idx,
		Searcher: srch,
		Backfill: orch,
		Provider: batcher,
	})
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	logger.Info("MCP server ready, listening on stdio")
	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
