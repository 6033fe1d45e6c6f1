//go:build sqlite_vec && !purego

package storage

// sqlite_vec build: mattn/go-sqlite3 with the sqlite-vec extension loaded,
// so NearestNeighbors ranks chunks with vec_distance_cosine inside SQLite.
//
//	CGO_ENABLED=1 go build -tags sqlite_vec ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver registered by mattn/go-sqlite3
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether vec_distance_cosine can be used in SQL
	VectorExtensionAvailable = true

	// BuildMode names the storage build for --version and startup logs
	BuildMode = "cgo"
)
