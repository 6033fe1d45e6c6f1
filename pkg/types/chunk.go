package types

import (
	"errors"
	"strings"
	"time"
)

// EntityKind identifies the kind of row a SourceText or embedding belongs to
type EntityKind string

const (
	KindDocument EntityKind = "document"
	KindProject  EntityKind = "project"
	KindTask     EntityKind = "task"
)

// AllKinds lists every kind the backfill sweeps, in a stable order
var AllKinds = []EntityKind{KindProject, KindTask, KindDocument}

// Validate checks that k is a known kind
func (k EntityKind) Validate() error {
	switch k {
	case KindDocument, KindProject, KindTask:
		return nil
	default:
		return errors.New("unknown entity kind: " + string(k))
	}
}

// SourceText is an addressable unit of content
type SourceText struct {
	ID          int64
	Kind        EntityKind
	ProjectID   int64
	Title       string
	Description string
	RawText     string // Extracted content, documents only
}

// Summary joins the non-empty title and description with a blank line.
// It is the default text extractor for every kind.
func (s SourceText) Summary() string {
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(s.Title); t != "" {
		parts = append(parts, t)
	}
	if d := strings.TrimSpace(s.Description); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, "\n\n")
}

// Chunk is an ordered slice of a document's text
type Chunk struct {
	// Identification
	ID         int64
	DocumentID int64
	Ordinal    int // 0-based, contiguous

	// Content
	Text  string
	Start int // Rune offset of the window start in the source text
	End   int // Rune offset one past the window end

	Embedding []float32 // Nil until embedded
	CreatedAt time.Time
}

// Validate checks the chunk's positional invariants
func (c *Chunk) Validate() error {
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	if c.Ordinal < 0 {
		return errors.New("ordinal must be non-negative")
	}
	if c.Start < 0 || c.End <= c.Start {
		return errors.New("chunk window must be non-empty")
	}
	return nil
}
