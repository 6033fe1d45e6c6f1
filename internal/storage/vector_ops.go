package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/dshills/projectrag/pkg/types"
)

// checkVector rejects vectors whose length differs from the store dimension
func checkVector(dimension int, vector []float32) error {
	if len(vector) != dimension {
		return fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(vector), dimension)
	}
	return nil
}

// Summary embedding operations

func findMissingEmbeddingsWithQuerier(ctx context.Context, q querier, kind types.EntityKind) ([]int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	ids, err := queryIDs(ctx, q, "SELECT id FROM "+table+" WHERE embedding IS NULL ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to find missing %s embeddings: %w", kind, err)
	}
	return ids, nil
}

// FindMissingEmbeddings returns the ids of rows of kind whose summary
// embedding is NULL
func (s *SQLiteStorage) FindMissingEmbeddings(ctx context.Context, kind types.EntityKind) ([]int64, error) {
	return findMissingEmbeddingsWithQuerier(ctx, s.querier(), kind)
}

func upsertEmbeddingWithQuerier(ctx context.Context, q querier, dimension int, kind types.EntityKind, id int64, vector []float32) error {
	if err := checkVector(dimension, vector); err != nil {
		return err
	}
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	result, err := q.ExecContext(ctx,
		"UPDATE "+table+" SET embedding = ?, embedded_at = ? WHERE id = ?",
		serializeVector(vector), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to upsert %s embedding: %w", kind, err)
	}
	return notFoundIfNoRows(result, string(kind), id)
}

// UpsertEmbedding replaces the summary embedding of one row. Writing the
// same vector twice leaves the row as the first write did.
func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, kind types.EntityKind, id int64, vector []float32) error {
	return upsertEmbeddingWithQuerier(ctx, s.querier(), s.dimension, kind, id, vector)
}

// Chunk embedding operations

func upsertChunkEmbeddingWithQuerier(ctx context.Context, q querier, dimension int, chunkID int64, vector []float32) error {
	if err := checkVector(dimension, vector); err != nil {
		return err
	}
	result, err := q.ExecContext(ctx, "UPDATE chunks SET embedding = ? WHERE id = ?", serializeVector(vector), chunkID)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk embedding: %w", err)
	}
	return notFoundIfNoRows(result, "chunk", chunkID)
}

func (s *SQLiteStorage) UpsertChunkEmbedding(ctx context.Context, chunkID int64, vector []float32) error {
	return upsertChunkEmbeddingWithQuerier(ctx, s.querier(), s.dimension, chunkID, vector)
}

// Search operations

// NearestNeighbors returns up to k embedded chunks of the project's
// documents, most similar first. Ties are broken by ordinal, then document id.
func (s *SQLiteStorage) NearestNeighbors(ctx context.Context, projectID int64, vector []float32, k int) ([]types.RetrievalResult, error) {
	return nearestNeighbors(ctx, s.querier(), s.dimension, projectID, vector, k)
}

func nearestNeighbors(ctx context.Context, q querier, dimension int, projectID int64, vector []float32, k int) ([]types.RetrievalResult, error) {
	if err := checkVector(dimension, vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []types.RetrievalResult{}, nil
	}

	// Use SQL-side scoring when sqlite-vec is available
	if VectorExtensionAvailable {
		return nearestNeighborsOptimized(ctx, q, projectID, vector, k)
	}
	// Fall back to Go-based computation for purego builds
	return nearestNeighborsFallback(ctx, q, dimension, projectID, vector, k)
}

// nearestNeighborsOptimized uses the sqlite-vec extension to score and rank in SQL
func nearestNeighborsOptimized(ctx context.Context, q querier, projectID int64, vector []float32, k int) ([]types.RetrievalResult, error) {
	// vec_distance_cosine returns distance (lower is better); convert to similarity
	query := `
		SELECT c.id, c.document_id, c.ordinal, c.content, c.start_offset, c.end_offset, c.created_at,
		       d.project_id, d.title,
		       1.0 - vec_distance_cosine(c.embedding, ?) AS similarity
		FROM chunks c
		INNER JOIN documents d ON c.document_id = d.id
		WHERE d.project_id = ? AND c.embedding IS NOT NULL
		ORDER BY similarity DESC, c.ordinal ASC, c.document_id ASC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, serializeVector(vector), projectID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]types.RetrievalResult, 0, k)
	for rows.Next() {
		var r types.RetrievalResult
		if err := rows.Scan(
			&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Ordinal, &r.Chunk.Text,
			&r.Chunk.Start, &r.Chunk.End, &r.Chunk.CreatedAt,
			&r.ProjectID, &r.DocumentTitle, &r.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// nearestNeighborsFallback scores every embedded chunk of the project in Go
func nearestNeighborsFallback(ctx context.Context, q querier, dimension int, projectID int64, vector []float32, k int) ([]types.RetrievalResult, error) {
	query := `
		SELECT c.id, c.document_id, c.ordinal, c.content, c.start_offset, c.end_offset, c.created_at,
		       d.project_id, d.title, c.embedding
		FROM chunks c
		INNER JOIN documents d ON c.document_id = d.id
		WHERE d.project_id = ? AND c.embedding IS NOT NULL
	`
	rows, err := q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results, err := scoreRows(rows, dimension, vector)
	if err != nil {
		return nil, err
	}

	types.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// scoreRows computes cosine similarity for every scanned chunk
func scoreRows(rows *sql.Rows, dimension int, vector []float32) ([]types.RetrievalResult, error) {
	results := make([]types.RetrievalResult, 0)
	for rows.Next() {
		var r types.RetrievalResult
		var blob []byte
		if err := rows.Scan(
			&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Ordinal, &r.Chunk.Text,
			&r.Chunk.Start, &r.Chunk.End, &r.Chunk.CreatedAt,
			&r.ProjectID, &r.DocumentTitle, &blob,
		); err != nil {
			return nil, err
		}

		stored := deserializeVector(blob)
		if len(stored) != dimension {
			return nil, fmt.Errorf("%w: chunk %d has %d, want %d",
				types.ErrDimensionMismatch, r.Chunk.ID, len(stored), dimension)
		}

		r.Score = cosineSimilarity(vector, stored)
		results = append(results, r)
	}
	return results, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
