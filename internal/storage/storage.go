package storage

import (
	"context"
	"time"

	"github.com/dshills/projectrag/pkg/types"
)

// Storage defines the interface for persisting pipeline entities and
// querying their embeddings
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, projectID int64) (*Project, error)
	UpdateProject(ctx context.Context, project *Project) error

	// Task operations
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, taskID int64) (*Task, error)
	UpdateTask(ctx context.Context, task *Task) error

	// Document operations
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, documentID int64) (*Document, error)
	UpdateDocumentMetadata(ctx context.Context, documentID int64, title, description string) error
	UpdateDocumentContent(ctx context.Context, documentID int64, content string) (reopened bool, err error)

	// Source text operations
	LoadSourceTexts(ctx context.Context, kind types.EntityKind, ids []int64) ([]types.SourceText, error)

	// Summary embedding operations
	Dimension() int
	FindMissingEmbeddings(ctx context.Context, kind types.EntityKind) ([]int64, error)
	UpsertEmbedding(ctx context.Context, kind types.EntityKind, id int64, vector []float32) error

	// Chunk operations
	ReplaceChunks(ctx context.Context, documentID int64, chunks []types.Chunk) ([]types.Chunk, error)
	ListChunks(ctx context.Context, documentID int64) ([]types.Chunk, error)
	UpsertChunkEmbedding(ctx context.Context, chunkID int64, vector []float32) error

	// Search operations
	NearestNeighbors(ctx context.Context, projectID int64, vector []float32, k int) ([]types.RetrievalResult, error)

	// Index state operations
	GetIndexState(ctx context.Context, documentID int64) (*types.IndexState, error)
	TransitionIndexState(ctx context.Context, from types.IndexStatus, next types.IndexState) error
	ListDocumentsByStatus(ctx context.Context, status types.IndexStatus) ([]int64, error)
	IncompleteDocuments(ctx context.Context, projectID int64) ([]int64, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Project is the top-level container every task and document belongs to
type Project struct {
	ID          int64
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task is a unit of work inside a project
type Task struct {
	ID          int64
	ProjectID   int64
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document is an uploaded file's extracted text and metadata
type Document struct {
	ID          int64
	ProjectID   int64
	TaskID      *int64 // Nullable
	Title       string
	Description string
	Content     string
	ContentHash [32]byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status contains statistics about the whole store
type Status struct {
	Dimension         int
	Projects          int
	Tasks             int
	Documents         int
	Chunks            int
	EmbeddedChunks    int
	MissingEmbeddings map[types.EntityKind]int
	DocumentsByStatus map[types.IndexStatus]int
	IndexSizeMB       float64
}
