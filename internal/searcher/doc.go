// Package searcher answers project-scoped semantic queries over indexed
// document chunks.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, batcher, metrics, searcher.Config{MaxK: 50})
//
//	ret, err := s.Retrieve(ctx, projectID, "what is the launch window?", 8)
//	for _, r := range ret.Results {
//	    fmt.Printf("%s #%d (%.3f)\n", r.DocumentTitle, r.Chunk.Ordinal, r.Score)
//	}
//
// # Retrieval
//
// The query is embedded as a one-element batch and handed to the store's
// nearest-neighbor search, restricted to the project. Results are ordered by
// cosine similarity, ties broken by chunk ordinal and then document id. Every
// result is checked against the requested project before it is returned; a
// chunk from another project fails the whole call with ErrCrossScopeLeak.
//
// Retrieval.IncompleteDocuments lists the project's documents that are not
// INDEXED, so callers know when answers may be missing content.
//
// # Errors
//
//	ErrInvalidInput         k <= 0 or an empty query
//	ErrProviderUnavailable  provider down, call failed or timed out; retry later
//	ErrNoVector             provider answered without a vector for the query
//	ErrDimensionMismatch    provider vector does not fit the store
//	context.Canceled        caller gave up before the query was sent
//
// # Query Cache
//
// With Config.CacheTTL set, rankings are kept in an LRU keyed by project, k
// and query text. Entries expire after the TTL; InvalidateCache drops them
// all and is wired to the indexer's OnChange hook. IncompleteDocuments is
// never cached and is read on every call.
package searcher
