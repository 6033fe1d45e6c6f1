// Package types provides shared type definitions for projectrag.
//
// This package defines the domain types passed between the chunker, the
// embedder, the storage layer, the indexer, the backfill orchestrator and the
// searcher.
//
// # Core Types
//
// SourceText is an addressable unit of content. Documents carry extracted
// text; projects and tasks are represented by a summary built from their
// title and description:
//
//	src := types.SourceText{
//	    ID:          42,
//	    Kind:        types.KindTask,
//	    Title:       "Migrate billing",
//	    Description: "Move invoices to the new ledger",
//	}
//
// Chunk is an ordered slice of a document's text. Ordinals start at 0 and
// have no gaps:
//
//	chunk := types.Chunk{
//	    DocumentID: 7,
//	    Ordinal:    0,
//	    Text:       "first window of the document",
//	}
//
// IndexState tracks a document through the indexing lifecycle:
//
//	PENDING -> PROCESSING -> INDEXED
//	                      -> FAILED
//	INDEXED, FAILED -> PENDING (re-submission)
//
// # Errors
//
// errors.go holds the error taxonomy shared by every component. Callers use
// errors.Is to tell retryable conditions (ErrProviderUnavailable,
// ErrAlreadyRunning) from permanent ones (ErrNoVector, ErrDimensionMismatch).
package types
