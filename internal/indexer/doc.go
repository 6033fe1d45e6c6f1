// Package indexer runs the document indexing pipeline and owns the index
// state machine.
//
// # Basic Usage
//
//	idx := indexer.New(store, chk, batcher, metrics, indexer.Config{Workers: 4})
//
//	res, err := idx.IndexDocument(ctx, docID)
//	fmt.Printf("%s: %d of %d chunks embedded\n", res.Status, res.Embedded, res.Chunks)
//
// # State Machine
//
// Every document carries an index state:
//
//	PENDING -> PROCESSING -> INDEXED
//	                      -> FAILED
//	INDEXED, FAILED -> PENDING   (Resubmit, or a content edit)
//
// Transitions are compare-and-set writes in storage, so two indexers racing
// for the same document cannot both claim it. CanTransition exposes the rule
// without touching storage.
//
// # Indexing Pipeline
//
//  1. Claim: PENDING -> PROCESSING and replace the document's chunks (one transaction)
//  2. Embed: all chunk texts through the embedding batcher
//  3. Store: write the vectors and the terminal state (one transaction)
//
// A document is INDEXED only when every chunk has a vector. Otherwise it is
// FAILED with a message of the form "embedded 3 of 5 chunks"; chunk count and
// indexed time stay unset. The terminal write runs on a context detached from
// the caller's cancellation, and a terminal write that fails is followed by a
// best-effort PROCESSING -> FAILED, so a claimed document never stays
// PROCESSING.
//
// Vectors whose length does not match the store are not a per-chunk failure:
// the document is FAILED, nothing is stored and the error wraps
// ErrDimensionMismatch. IndexPending stops starting documents when it sees one.
//
// Config.OnChange runs after every committed state change; wire it to the
// searcher's InvalidateCache.
//
// # Draining
//
// IndexPending indexes every PENDING document using an errgroup bounded by
// Config.Workers. RecoverInterrupted moves documents left PROCESSING by a
// crashed process to FAILED so they can be resubmitted.
package indexer
