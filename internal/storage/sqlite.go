package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/projectrag/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = types.ErrNotFound
	// ErrTxUnsupported is returned for operations a transaction cannot perform
	ErrTxUnsupported = errors.New("operation not supported inside a transaction")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db        *sql.DB
	dimension int
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance whose vectors all
// have the given dimension. Reopening a database with a different dimension
// fails with ErrDimensionMismatch.
func NewSQLiteStorage(dbPath string, dimension int) (*SQLiteStorage, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", types.ErrInvalidInput, dimension)
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := checkDimension(ctx, db, dimension); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db, dimension: dimension}, nil
}

// checkDimension records the dimension on first open and verifies it after
func checkDimension(ctx context.Context, db *sql.DB, dimension int) error {
	var stored string
	err := db.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = 'dimension'").Scan(&stored)
	if err == sql.ErrNoRows {
		_, err = db.ExecContext(ctx, "INSERT INTO store_meta (key, value) VALUES ('dimension', ?)", strconv.Itoa(dimension))
		if err != nil {
			return fmt.Errorf("failed to record dimension: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dimension: %w", err)
	}

	if stored != strconv.Itoa(dimension) {
		return fmt.Errorf("%w: store was created with dimension %s, configured %d",
			types.ErrDimensionMismatch, stored, dimension)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Dimension returns the vector dimension fixed for this store
func (s *SQLiteStorage) Dimension() int {
	return s.dimension
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// withTx runs fn in a new transaction, committing on success
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// tableFor maps a kind to the table holding its summary embedding
func tableFor(kind types.EntityKind) (string, error) {
	switch kind {
	case types.KindProject:
		return "projects", nil
	case types.KindTask:
		return "tasks", nil
	case types.KindDocument:
		return "documents", nil
	default:
		return "", fmt.Errorf("%w: unknown entity kind %q", types.ErrInvalidInput, kind)
	}
}

// notFoundIfNoRows maps an UPDATE that touched nothing to ErrNotFound
func notFoundIfNoRows(result sql.Result, what string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return nil
}

// Project operations

func createProjectWithQuerier(ctx context.Context, q querier, project *Project) error {
	if strings.TrimSpace(project.Title) == "" {
		return fmt.Errorf("%w: project title is required", types.ErrInvalidInput)
	}

	query := `
		INSERT INTO projects (title, description, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query, project.Title, project.Description, now, now)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	project.ID = id
	project.CreatedAt = now
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateProject(ctx context.Context, project *Project) error {
	return createProjectWithQuerier(ctx, s.querier(), project)
}

func getProjectWithQuerier(ctx context.Context, q querier, projectID int64) (*Project, error) {
	query := `
		SELECT id, title, description, created_at, updated_at
		FROM projects
		WHERE id = ?
	`
	var project Project
	err := q.QueryRowContext(ctx, query, projectID).Scan(
		&project.ID, &project.Title, &project.Description,
		&project.CreatedAt, &project.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %d", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *SQLiteStorage) GetProject(ctx context.Context, projectID int64) (*Project, error) {
	return getProjectWithQuerier(ctx, s.querier(), projectID)
}

// updateSummaryQuery updates title and description and clears the summary
// embedding when either changed. SET expressions see the pre-update row.
const updateSummaryQuery = `
	UPDATE %s
	SET embedding = CASE WHEN title IS ? AND description IS ? THEN embedding ELSE NULL END,
	    embedded_at = CASE WHEN title IS ? AND description IS ? THEN embedded_at ELSE NULL END,
	    title = ?, description = ?, updated_at = ?
	WHERE id = ?
`

func updateSummaryWithQuerier(ctx context.Context, q querier, table string, id int64, title, description string) (time.Time, error) {
	if strings.TrimSpace(title) == "" {
		return time.Time{}, fmt.Errorf("%w: title is required", types.ErrInvalidInput)
	}

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, fmt.Sprintf(updateSummaryQuery, table),
		title, description, title, description, title, description, now, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to update %s: %w", table, err)
	}
	return now, notFoundIfNoRows(result, table, id)
}

func (s *SQLiteStorage) UpdateProject(ctx context.Context, project *Project) error {
	return updateProjectWithQuerier(ctx, s.querier(), project)
}

func updateProjectWithQuerier(ctx context.Context, q querier, project *Project) error {
	now, err := updateSummaryWithQuerier(ctx, q, "projects", project.ID, project.Title, project.Description)
	if err != nil {
		return err
	}
	project.UpdatedAt = now
	return nil
}

// Task operations

func createTaskWithQuerier(ctx context.Context, q querier, task *Task) error {
	if strings.TrimSpace(task.Title) == "" {
		return fmt.Errorf("%w: task title is required", types.ErrInvalidInput)
	}

	query := `
		INSERT INTO tasks (project_id, title, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query, task.ProjectID, task.Title, task.Description, now, now)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateTask(ctx context.Context, task *Task) error {
	return createTaskWithQuerier(ctx, s.querier(), task)
}

func getTaskWithQuerier(ctx context.Context, q querier, taskID int64) (*Task, error) {
	query := `
		SELECT id, project_id, title, description, created_at, updated_at
		FROM tasks
		WHERE id = ?
	`
	var task Task
	err := q.QueryRowContext(ctx, query, taskID).Scan(
		&task.ID, &task.ProjectID, &task.Title, &task.Description,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %d", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *SQLiteStorage) GetTask(ctx context.Context, taskID int64) (*Task, error) {
	return getTaskWithQuerier(ctx, s.querier(), taskID)
}

func updateTaskWithQuerier(ctx context.Context, q querier, task *Task) error {
	now, err := updateSummaryWithQuerier(ctx, q, "tasks", task.ID, task.Title, task.Description)
	if err != nil {
		return err
	}
	task.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateTask(ctx context.Context, task *Task) error {
	return updateTaskWithQuerier(ctx, s.querier(), task)
}

// Document operations

// createDocumentWithQuerier inserts the document in PENDING index state
func createDocumentWithQuerier(ctx context.Context, q querier, doc *Document) error {
	if strings.TrimSpace(doc.Title) == "" {
		return fmt.Errorf("%w: document title is required", types.ErrInvalidInput)
	}

	query := `
		INSERT INTO documents (project_id, task_id, title, description, content, content_hash,
		                       index_status, index_updated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	hash := sha256.Sum256([]byte(doc.Content))
	result, err := q.ExecContext(ctx, query,
		doc.ProjectID, doc.TaskID, doc.Title, doc.Description, doc.Content, hash[:],
		string(types.StatusPending), now, now, now)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	doc.ID = id
	doc.ContentHash = hash
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *Document) error {
	return createDocumentWithQuerier(ctx, s.querier(), doc)
}

func getDocumentWithQuerier(ctx context.Context, q querier, documentID int64) (*Document, error) {
	query := `
		SELECT id, project_id, task_id, title, description, content, content_hash,
		       created_at, updated_at
		FROM documents
		WHERE id = ?
	`
	var doc Document
	var taskID sql.NullInt64
	var hash []byte
	err := q.QueryRowContext(ctx, query, documentID).Scan(
		&doc.ID, &doc.ProjectID, &taskID, &doc.Title, &doc.Description,
		&doc.Content, &hash, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %d", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		doc.TaskID = &taskID.Int64
	}
	copy(doc.ContentHash[:], hash)
	return &doc, nil
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, documentID int64) (*Document, error) {
	return getDocumentWithQuerier(ctx, s.querier(), documentID)
}

func (s *SQLiteStorage) UpdateDocumentMetadata(ctx context.Context, documentID int64, title, description string) error {
	_, err := updateSummaryWithQuerier(ctx, s.querier(), "documents", documentID, title, description)
	return err
}

// updateDocumentContentWithQuerier stores new content. Changed content
// reopens indexing (INDEXED or FAILED back to PENDING, with the terminal
// fields cleared); unchanged content is a no-op. Content cannot change while
// the document is PROCESSING.
func updateDocumentContentWithQuerier(ctx context.Context, q querier, documentID int64, content string) (bool, error) {
	var status string
	var stored []byte
	err := q.QueryRowContext(ctx,
		"SELECT index_status, content_hash FROM documents WHERE id = ?", documentID,
	).Scan(&status, &stored)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("%w: document %d", ErrNotFound, documentID)
	}
	if err != nil {
		return false, err
	}

	hash := sha256.Sum256([]byte(content))
	if string(stored) == string(hash[:]) {
		return false, nil
	}
	if types.IndexStatus(status) == types.StatusProcessing {
		return false, fmt.Errorf("%w: document %d", types.ErrIndexingInProgress, documentID)
	}

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, `
		UPDATE documents
		SET content = ?, content_hash = ?, updated_at = ?,
		    index_status = ?, chunk_count = NULL, error_message = NULL,
		    indexed_at = NULL, index_updated_at = ?
		WHERE id = ? AND index_status != ?
	`, content, hash[:], now, string(types.StatusPending), now, documentID, string(types.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to update document content: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Picked up for processing between the read and the write
		return false, fmt.Errorf("%w: document %d", types.ErrIndexingInProgress, documentID)
	}
	return true, nil
}

func (s *SQLiteStorage) UpdateDocumentContent(ctx context.Context, documentID int64, content string) (bool, error) {
	return updateDocumentContentWithQuerier(ctx, s.querier(), documentID, content)
}

// Source text operations

func loadSourceTextsWithQuerier(ctx context.Context, q querier, kind types.EntityKind, ids []int64) ([]types.SourceText, error) {
	if len(ids) == 0 {
		return []types.SourceText{}, nil
	}

	var query string
	switch kind {
	case types.KindProject:
		query = "SELECT id, id, title, description, '' FROM projects WHERE id IN (%s) ORDER BY id"
	case types.KindTask:
		query = "SELECT id, project_id, title, description, '' FROM tasks WHERE id IN (%s) ORDER BY id"
	case types.KindDocument:
		query = "SELECT id, project_id, title, description, content FROM documents WHERE id IN (%s) ORDER BY id"
	default:
		return nil, fmt.Errorf("%w: unknown entity kind %q", types.ErrInvalidInput, kind)
	}

	placeholders, args := inClause(ids)
	rows, err := q.QueryContext(ctx, fmt.Sprintf(query, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s source texts: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	texts := make([]types.SourceText, 0, len(ids))
	for rows.Next() {
		st := types.SourceText{Kind: kind}
		if err := rows.Scan(&st.ID, &st.ProjectID, &st.Title, &st.Description, &st.RawText); err != nil {
			return nil, err
		}
		texts = append(texts, st)
	}
	return texts, rows.Err()
}

func (s *SQLiteStorage) LoadSourceTexts(ctx context.Context, kind types.EntityKind, ids []int64) ([]types.SourceText, error) {
	return loadSourceTextsWithQuerier(ctx, s.querier(), kind, ids)
}

// inClause builds "?,?,?" and the matching args
func inClause(ids []int64) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

// Chunk operations

// replaceChunksWithQuerier deletes the document's chunks and inserts the
// given ones, returning them with IDs assigned
func replaceChunksWithQuerier(ctx context.Context, q querier, documentID int64, chunks []types.Chunk) ([]types.Chunk, error) {
	if _, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return nil, fmt.Errorf("failed to delete chunks: %w", err)
	}

	query := `
		INSERT INTO chunks (document_id, ordinal, content, start_offset, end_offset, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	out := make([]types.Chunk, len(chunks))
	for i, c := range chunks {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", types.ErrInvalidInput, i, err)
		}
		result, err := q.ExecContext(ctx, query, documentID, c.Ordinal, c.Text, c.Start, c.End, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert chunk %d: %w", c.Ordinal, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		c.ID = id
		c.DocumentID = documentID
		c.Embedding = nil
		c.CreatedAt = now
		out[i] = c
	}
	return out, nil
}

func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, documentID int64, chunks []types.Chunk) ([]types.Chunk, error) {
	var out []types.Chunk
	err := s.withTx(ctx, func(q querier) error {
		var err error
		out, err = replaceChunksWithQuerier(ctx, q, documentID, chunks)
		return err
	})
	return out, err
}

func listChunksWithQuerier(ctx context.Context, q querier, documentID int64) ([]types.Chunk, error) {
	query := `
		SELECT id, document_id, ordinal, content, start_offset, end_offset, embedding, created_at
		FROM chunks
		WHERE document_id = ?
		ORDER BY ordinal
	`
	rows, err := q.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]types.Chunk, 0)
	for rows.Next() {
		var c types.Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.Start, &c.End, &blob, &c.CreatedAt); err != nil {
			return nil, err
		}
		if blob != nil {
			c.Embedding = deserializeVector(blob)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStorage) ListChunks(ctx context.Context, documentID int64) ([]types.Chunk, error) {
	return listChunksWithQuerier(ctx, s.querier(), documentID)
}

// Index state operations

func getIndexStateWithQuerier(ctx context.Context, q querier, documentID int64) (*types.IndexState, error) {
	query := `
		SELECT id, index_status, chunk_count, error_message, indexed_at, index_updated_at
		FROM documents
		WHERE id = ?
	`
	var (
		state      types.IndexState
		status     string
		chunkCount sql.NullInt64
		errMsg     sql.NullString
		indexedAt  sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, documentID).Scan(
		&state.DocumentID, &status, &chunkCount, &errMsg, &indexedAt, &state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %d", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}

	state.Status = types.IndexStatus(status)
	if chunkCount.Valid {
		n := int(chunkCount.Int64)
		state.ChunkCount = &n
	}
	if errMsg.Valid {
		state.ErrorMessage = &errMsg.String
	}
	if indexedAt.Valid {
		state.IndexedAt = &indexedAt.Time
	}
	return &state, nil
}

func (s *SQLiteStorage) GetIndexState(ctx context.Context, documentID int64) (*types.IndexState, error) {
	return getIndexStateWithQuerier(ctx, s.querier(), documentID)
}

// transitionIndexStateWithQuerier moves the document from `from` to
// next.Status, writing next's fields in the same statement. It fails with
// ErrInvalidTransition when the rule forbids the move or the stored status is
// no longer `from`.
func transitionIndexStateWithQuerier(ctx context.Context, q querier, from types.IndexStatus, next types.IndexState) error {
	if !from.CanTransitionTo(next.Status) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, next.Status)
	}

	// Terminal fields are only kept for the status they belong to
	var (
		chunkCount sql.NullInt64
		errMsg     sql.NullString
		indexedAt  sql.NullTime
	)
	switch next.Status {
	case types.StatusIndexed:
		if next.ChunkCount == nil || next.IndexedAt == nil {
			return fmt.Errorf("%w: INDEXED requires chunk count and indexed time", types.ErrInvalidInput)
		}
		chunkCount = sql.NullInt64{Int64: int64(*next.ChunkCount), Valid: true}
		indexedAt = sql.NullTime{Time: next.IndexedAt.UTC(), Valid: true}
	case types.StatusFailed:
		msg := "indexing failed"
		if next.ErrorMessage != nil {
			msg = *next.ErrorMessage
		}
		errMsg = sql.NullString{String: msg, Valid: true}
	}

	result, err := q.ExecContext(ctx, `
		UPDATE documents
		SET index_status = ?, chunk_count = ?, error_message = ?, indexed_at = ?, index_updated_at = ?
		WHERE id = ? AND index_status = ?
	`, string(next.Status), chunkCount, errMsg, indexedAt, time.Now().UTC(), next.DocumentID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update index state: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	current, err := getIndexStateWithQuerier(ctx, q, next.DocumentID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: document %d is %s, expected %s",
		types.ErrInvalidTransition, next.DocumentID, current.Status, from)
}

func (s *SQLiteStorage) TransitionIndexState(ctx context.Context, from types.IndexStatus, next types.IndexState) error {
	return transitionIndexStateWithQuerier(ctx, s.querier(), from, next)
}

func listDocumentsByStatusWithQuerier(ctx context.Context, q querier, status types.IndexStatus) ([]int64, error) {
	return queryIDs(ctx, q, "SELECT id FROM documents WHERE index_status = ? ORDER BY id", string(status))
}

func (s *SQLiteStorage) ListDocumentsByStatus(ctx context.Context, status types.IndexStatus) ([]int64, error) {
	return listDocumentsByStatusWithQuerier(ctx, s.querier(), status)
}

func incompleteDocumentsWithQuerier(ctx context.Context, q querier, projectID int64) ([]int64, error) {
	return queryIDs(ctx, q,
		"SELECT id FROM documents WHERE project_id = ? AND index_status != ? ORDER BY id",
		projectID, string(types.StatusIndexed))
}

func (s *SQLiteStorage) IncompleteDocuments(ctx context.Context, projectID int64) ([]int64, error) {
	return incompleteDocumentsWithQuerier(ctx, s.querier(), projectID)
}

// queryIDs runs a single-column id query
func queryIDs(ctx context.Context, q querier, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Status operations

func getStatusWithQuerier(ctx context.Context, q querier, dimension int) (*Status, error) {
	status := &Status{
		Dimension:         dimension,
		MissingEmbeddings: make(map[types.EntityKind]int),
		DocumentsByStatus: make(map[types.IndexStatus]int),
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM projects", &status.Projects},
		{"SELECT COUNT(*) FROM tasks", &status.Tasks},
		{"SELECT COUNT(*) FROM documents", &status.Documents},
		{"SELECT COUNT(*) FROM chunks", &status.Chunks},
		{"SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL", &status.EmbeddedChunks},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	for _, kind := range types.AllKinds {
		table, _ := tableFor(kind)
		var n int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE embedding IS NULL").Scan(&n); err != nil {
			return nil, err
		}
		status.MissingEmbeddings[kind] = n
	}

	rows, err := q.QueryContext(ctx, "SELECT index_status, COUNT(*) FROM documents GROUP BY index_status")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		status.DocumentsByStatus[types.IndexStatus(st)] = n
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Calculate database size
	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	return getStatusWithQuerier(ctx, s.querier(), s.dimension)
}

// Transaction implementations - delegate to the querier-based functions

func (t *sqliteTx) CreateProject(ctx context.Context, project *Project) error {
	return createProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) GetProject(ctx context.Context, projectID int64) (*Project, error) {
	return getProjectWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) UpdateProject(ctx context.Context, project *Project) error {
	return updateProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) CreateTask(ctx context.Context, task *Task) error {
	return createTaskWithQuerier(ctx, t.querier(), task)
}

func (t *sqliteTx) GetTask(ctx context.Context, taskID int64) (*Task, error) {
	return getTaskWithQuerier(ctx, t.querier(), taskID)
}

func (t *sqliteTx) UpdateTask(ctx context.Context, task *Task) error {
	return updateTaskWithQuerier(ctx, t.querier(), task)
}

func (t *sqliteTx) CreateDocument(ctx context.Context, doc *Document) error {
	return createDocumentWithQuerier(ctx, t.querier(), doc)
}

func (t *sqliteTx) GetDocument(ctx context.Context, documentID int64) (*Document, error) {
	return getDocumentWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) UpdateDocumentMetadata(ctx context.Context, documentID int64, title, description string) error {
	_, err := updateSummaryWithQuerier(ctx, t.querier(), "documents", documentID, title, description)
	return err
}

func (t *sqliteTx) UpdateDocumentContent(ctx context.Context, documentID int64, content string) (bool, error) {
	return updateDocumentContentWithQuerier(ctx, t.querier(), documentID, content)
}

func (t *sqliteTx) LoadSourceTexts(ctx context.Context, kind types.EntityKind, ids []int64) ([]types.SourceText, error) {
	return loadSourceTextsWithQuerier(ctx, t.querier(), kind, ids)
}

func (t *sqliteTx) Dimension() int {
	return t.storage.dimension
}

func (t *sqliteTx) FindMissingEmbeddings(ctx context.Context, kind types.EntityKind) ([]int64, error) {
	return findMissingEmbeddingsWithQuerier(ctx, t.querier(), kind)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, kind types.EntityKind, id int64, vector []float32) error {
	return upsertEmbeddingWithQuerier(ctx, t.querier(), t.storage.dimension, kind, id, vector)
}

func (t *sqliteTx) ReplaceChunks(ctx context.Context, documentID int64, chunks []types.Chunk) ([]types.Chunk, error) {
	return replaceChunksWithQuerier(ctx, t.querier(), documentID, chunks)
}

func (t *sqliteTx) ListChunks(ctx context.Context, documentID int64) ([]types.Chunk, error) {
	return listChunksWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) UpsertChunkEmbedding(ctx context.Context, chunkID int64, vector []float32) error {
	return upsertChunkEmbeddingWithQuerier(ctx, t.querier(), t.storage.dimension, chunkID, vector)
}

func (t *sqliteTx) NearestNeighbors(ctx context.Context, projectID int64, vector []float32, k int) ([]types.RetrievalResult, error) {
	return nearestNeighbors(ctx, t.querier(), t.storage.dimension, projectID, vector, k)
}

func (t *sqliteTx) GetIndexState(ctx context.Context, documentID int64) (*types.IndexState, error) {
	return getIndexStateWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) TransitionIndexState(ctx context.Context, from types.IndexStatus, next types.IndexState) error {
	return transitionIndexStateWithQuerier(ctx, t.querier(), from, next)
}

func (t *sqliteTx) ListDocumentsByStatus(ctx context.Context, status types.IndexStatus) ([]int64, error) {
	return listDocumentsByStatusWithQuerier(ctx, t.querier(), status)
}

func (t *sqliteTx) IncompleteDocuments(ctx context.Context, projectID int64) ([]int64, error) {
	return incompleteDocumentsWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	return getStatusWithQuerier(ctx, t.querier(), t.storage.dimension)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close, they commit or rollback
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, fmt.Errorf("%w: nested transactions", ErrTxUnsupported)
}
