package types

import "errors"

// Pipeline errors
var (
	// ErrProviderUnavailable means the embedding provider cannot be used right
	// now. Nothing was attempted; the call can be retried later.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrProviderBatchFailure marks the slots of a single failed sub-batch.
	ErrProviderBatchFailure = errors.New("embedding provider batch failed")

	// ErrNoVector means the provider answered but produced no vector for the
	// text (for example the text exceeded the model's input limit).
	ErrNoVector = errors.New("provider returned no vector for text")

	// ErrDimensionMismatch means a vector does not match the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrAlreadyRunning is returned when a backfill is already in flight.
	ErrAlreadyRunning = errors.New("sync already running")

	// ErrCrossScopeLeak is returned when retrieval yields a chunk from another project.
	ErrCrossScopeLeak = errors.New("retrieval returned chunk outside project scope")
)

// Domain errors
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidTransition  = errors.New("invalid index state transition")
	ErrIndexingInProgress = errors.New("document indexing in progress")
	ErrInvalidWindow      = errors.New("overlap must be >= 0 and < max length")
)
