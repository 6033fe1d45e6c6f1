package mcp

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/projectrag/internal/backfill"
	"github.com/dshills/projectrag/internal/indexer"
	"github.com/dshills/projectrag/internal/searcher"
	"github.com/dshills/projectrag/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "projectrag"
	// DefaultK is used when retrieve_context is called without k
	DefaultK = 8
)

// ProviderInfo reports on the embedding provider for get_status
type ProviderInfo interface {
	ProviderName() string
	IsAvailable() bool
	FailedBatches() int64
}

// Config wires the server to the pipeline components
type Config struct {
	Version  string
	DefaultK int

	Storage  storage.Storage
	Indexer  *indexer.Indexer
	Searcher *searcher.Searcher
	Backfill *backfill.Orchestrator
	Provider ProviderInfo
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	backfill *backfill.Orchestrator
	provider ProviderInfo
	defaultK int
}

// NewServer creates a new MCP server instance
func NewServer(cfg Config) (*Server, error) {
	if cfg.Storage == nil || cfg.Indexer == nil || cfg.Searcher == nil || cfg.Backfill == nil {
		return nil, fmt.Errorf("storage, indexer, searcher and backfill are required")
	}
	defaultK := cfg.DefaultK
	if defaultK <= 0 {
		defaultK = DefaultK
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		storage:  cfg.Storage,
		indexer:  cfg.Indexer,
		searcher: cfg.Searcher,
		backfill: cfg.Backfill,
		provider: cfg.Provider,
		defaultK: defaultK,
	}

	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio until ctx is done or stdin closes.
// The caller owns the storage and closes it.
func (s *Server) Serve(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Source data
	s.mcp.AddTool(createProjectTool(), s.handleCreateProject)
	s.mcp.AddTool(uploadDocumentTool(), s.handleUploadDocument)
	s.mcp.AddTool(updateDocumentContentTool(), s.handleUpdateDocumentContent)

	// Indexing
	s.mcp.AddTool(indexDocumentTool(), s.handleIndexDocument)
	s.mcp.AddTool(resubmitDocumentTool(), s.handleResubmitDocument)
	s.mcp.AddTool(getIndexStateTool(), s.handleGetIndexState)

	// Retrieval and maintenance
	s.mcp.AddTool(retrieveContextTool(), s.handleRetrieveContext)
	s.mcp.AddTool(syncEmbeddingsTool(), s.handleSyncEmbeddings)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
