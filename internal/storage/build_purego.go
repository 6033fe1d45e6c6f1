//go:build purego || !sqlite_vec

package storage

// Default build: pure Go SQLite, no C toolchain needed. Nearest-neighbor
// queries load a project's embedded chunks and score them with
// CosineSimilarity in Go, which is fine for per-project document sets.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver registered by modernc.org/sqlite
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether vec_distance_cosine can be used in SQL
	VectorExtensionAvailable = false

	// BuildMode names the storage build for --version and startup logs
	BuildMode = "purego"
)
