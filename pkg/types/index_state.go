package types

import "time"

// IndexStatus is a document's position in the indexing lifecycle
type IndexStatus string

const (
	StatusPending    IndexStatus = "PENDING"
	StatusProcessing IndexStatus = "PROCESSING"
	StatusIndexed    IndexStatus = "INDEXED"
	StatusFailed     IndexStatus = "FAILED"
)

// Terminal reports whether no further pipeline transition applies
func (s IndexStatus) Terminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next:
// PENDING to PROCESSING, PROCESSING to INDEXED or FAILED, and INDEXED or
// FAILED back to PENDING on re-submission.
func (s IndexStatus) CanTransitionTo(next IndexStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusIndexed || next == StatusFailed
	case StatusIndexed, StatusFailed:
		return next == StatusPending
	default:
		return false
	}
}

// Valid reports whether s is a known status
func (s IndexStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// IndexState is the per-document indexing record.
// ChunkCount and IndexedAt are non-nil only when Status is INDEXED;
// ErrorMessage is non-nil only when Status is FAILED.
type IndexState struct {
	DocumentID   int64
	Status       IndexStatus
	ChunkCount   *int
	ErrorMessage *string
	IndexedAt    *time.Time
	UpdatedAt    time.Time
}

// Pending returns the state a document starts in or returns to on re-submission
func Pending(documentID int64) IndexState {
	return IndexState{DocumentID: documentID, Status: StatusPending}
}

// Indexed returns the terminal success state
func Indexed(documentID int64, chunkCount int, at time.Time) IndexState {
	return IndexState{
		DocumentID: documentID,
		Status:     StatusIndexed,
		ChunkCount: &chunkCount,
		IndexedAt:  &at,
	}
}

// Failed returns the terminal failure state
func Failed(documentID int64, msg string) IndexState {
	return IndexState{
		DocumentID:   documentID,
		Status:       StatusFailed,
		ErrorMessage: &msg,
	}
}

// Processing returns the state held while chunks are being embedded
func Processing(documentID int64) IndexState {
	return IndexState{DocumentID: documentID, Status: StatusProcessing}
}
