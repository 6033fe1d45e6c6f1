// Package storage provides SQLite-based persistence for projects, tasks,
// documents, chunks and their embeddings.
//
// # Database Schema
//
// Tables:
//   - projects: title, description and summary embedding
//   - tasks: per-project work items with a summary embedding
//   - documents: metadata, extracted content, summary embedding and index state
//   - chunks: ordered windows of a document's content with their embeddings
//   - store_meta: settings fixed at creation (embedding dimension)
//
// Embeddings are stored as little-endian float32 blobs. A NULL embedding
// marks a row the backfill still has to process.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.projectrag/projectrag.db", 1536)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	missing, err := db.FindMissingEmbeddings(ctx, types.KindTask)
//
// # Transactions
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	err = tx.TransitionIndexState(ctx, types.StatusPending, types.Processing(docID))
//	chunks, err = tx.ReplaceChunks(ctx, docID, chunks)
//
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// # Dimension
//
// Every store has one vector dimension, recorded on first open. Writes and
// queries with any other length fail with types.ErrDimensionMismatch;
// vectors are never truncated or padded.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go) and scores vectors in
// Go. Building with -tags sqlite_vec uses github.com/mattn/go-sqlite3 and the
// sqlite-vec extension so similarity is computed and ranked in SQL.
package storage
