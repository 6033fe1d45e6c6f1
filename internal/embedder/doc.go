// Package embedder generates vector embeddings for chunk and entity text.
//
// Providers (Jina AI, OpenAI, local hashing) implement a single-request
// Embed call. The Batcher sits on top of a Provider and handles sub-batching,
// caching and per-slot error reporting.
//
// # Basic Usage
//
//	provider, err := embedder.New(embedder.Config{Provider: "openai"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	batcher := embedder.NewBatcher(provider, embedder.NewCache(1000), embedder.BatcherConfig{
//	    BatchSize: 20,
//	})
//
//	result, err := batcher.EmbedBatch(ctx, texts)
//	if errors.Is(err, types.ErrProviderUnavailable) {
//	    // nothing was sent
//	}
//	for i, vec := range result.Vectors {
//	    if vec == nil {
//	        log.Printf("text %d: %v", i, result.Errs[i])
//	        continue
//	    }
//	    // store vec
//	}
//
// # Provider Selection
//
//  1. Config.Provider when set
//  2. Jina AI when JINA_API_KEY is set
//  3. OpenAI when Config.APIKey or OPENAI_API_KEY is set
//  4. local hashing provider otherwise (offline mode)
//
// # Failure Isolation
//
// A failed provider request (transport error, timeout, wrong result count)
// marks every slot of that sub-batch with ErrProviderBatchFailure and leaves
// the other sub-batches untouched. A text the provider returned no vector
// for is marked ErrNoVector. Nothing is retried here; the next sync run
// picks up whatever is still missing.
//
// New wraps every provider in a GuardedProvider: a circuit breaker that
// makes the provider report itself unavailable after repeated failures, and
// an optional requests-per-minute limiter.
package embedder
