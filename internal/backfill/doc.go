// Package backfill keeps summary embeddings of projects, tasks and documents
// in step with their source rows.
//
// A row is "missing" when its summary embedding is NULL: it was never
// embedded, a previous attempt failed, or an edit to its title or description
// cleared it. SyncAll finds the missing rows of every kind, builds each row's
// text with the kind's TextExtractor (title and description by default),
// embeds the texts in sub-batches and writes the vectors back. Rows that
// fail stay missing, so the next run retries them without any retry loop in
// between.
//
// # Single Flight
//
// An Orchestrator holds a TryLocker for the length of a run. A call made while
// another run holds the lock returns ErrAlreadyRunning immediately. The lock
// is released on every exit path, including a panic in an extractor.
//
// # Cancellation
//
// Each sub-batch runs on a context detached from the caller's cancellation
// and bounded by Config.BatchTimeout. Cancelling a run lets the sub-batches
// already started finish and be written; no further sub-batch starts.
//
//	run, err := orch.SyncAll(ctx)
//	if errors.Is(err, types.ErrAlreadyRunning) {
//	    return // someone else is on it
//	}
//	log.Printf("synced %d, failed %d, cancelled=%v", run.Synced(), run.Failed(), run.Cancelled)
package backfill
