package types

import "sort"

// RetrievalResult is a chunk paired with its similarity to a query
type RetrievalResult struct {
	Chunk         Chunk
	ProjectID     int64
	DocumentTitle string
	Score         float64 // Cosine similarity, higher is closer
}

// Retrieval is the answer to one retrieval query
type Retrieval struct {
	Results []RetrievalResult

	// IncompleteDocuments lists documents of the project whose index is not
	// INDEXED; their chunks may be missing from Results.
	IncompleteDocuments []int64
}

// SortResults orders results by score descending, then ordinal ascending,
// then document id ascending.
func SortResults(results []RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	})
}
