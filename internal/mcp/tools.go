package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/projectrag/internal/backfill"
	"github.com/dshills/projectrag/internal/indexer"
	"github.com/dshills/projectrag/internal/storage"
	"github.com/dshills/projectrag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound            = -32001 // Project, task or document does not exist
	ErrorCodeSyncInProgress      = -32002 // Another backfill is already running
	ErrorCodeIndexingInProgress  = -32003 // Document is being indexed
	ErrorCodeInvalidTransition   = -32004 // Index state does not allow the operation
	ErrorCodeProviderUnavailable = -32005 // Embedding provider unavailable, retry later
	ErrorCodeNoVector            = -32006 // Provider returned no vector for the query
	ErrorCodeEmptyQuery          = -32007 // Query parameter is empty
	ErrorCodeDimensionMismatch   = -32008 // Provider vectors do not fit the store
)

// handleCreateProject handles the create_project tool invocation
func (s *Server) handleCreateProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}

	project := &storage.Project{
		Title:       title,
		Description: getStringDefault(args, "description", ""),
	}
	if err := s.storage.CreateProject(ctx, project); err != nil {
		return nil, toMCPError("failed to create project", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"project_id": project.ID,
		"title":      project.Title,
	})), nil
}

// handleUploadDocument handles the upload_document tool invocation
func (s *Server) handleUploadDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}
	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "content parameter is required", map[string]interface{}{
			"param":  "content",
			"reason": "missing",
		})
	}

	doc := &storage.Document{
		ProjectID:   projectID,
		Title:       title,
		Description: getStringDefault(args, "description", ""),
		Content:     content,
	}
	if taskID := getIntDefault(args, "task_id", 0); taskID > 0 {
		id := int64(taskID)
		doc.TaskID = &id
	}

	if err := s.storage.CreateDocument(ctx, doc); err != nil {
		return nil, toMCPError("failed to create document", err)
	}

	response := s.indexNow(ctx, doc.ID)
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleUpdateDocumentContent handles the update_document_content tool invocation
func (s *Server) handleUpdateDocumentContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	documentID, err := requireID(args, "document_id")
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "content parameter is required", map[string]interface{}{
			"param":  "content",
			"reason": "missing",
		})
	}

	reopened, err := s.storage.UpdateDocumentContent(ctx, documentID, content)
	if err != nil {
		return nil, toMCPError("failed to update document", err)
	}
	if !reopened {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"document_id": documentID,
			"changed":     false,
		})), nil
	}
	// Old chunks are gone whether or not indexing succeeds below
	s.searcher.InvalidateCache()

	response := s.indexNow(ctx, documentID)
	response["changed"] = true
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// indexNow indexes a freshly PENDING document. Failing to index is reported
// in the response, not as an error: the document is stored either way and
// the scheduler will pick it up.
func (s *Server) indexNow(ctx context.Context, documentID int64) map[string]interface{} {
	res, err := s.indexer.IndexDocument(ctx, documentID)
	s.searcher.InvalidateCache()
	switch {
	case err == nil:
		return indexResultResponse(res)
	case res != nil:
		response := indexResultResponse(res)
		response["message"] = "document stored, indexing failed: " + err.Error()
		return response
	}

	// Report where the document actually ended up
	status := types.StatusPending
	if state, serr := s.storage.GetIndexState(context.WithoutCancel(ctx), documentID); serr == nil {
		status = state.Status
	}
	message := "document stored, indexing deferred: " + err.Error()
	if status != types.StatusPending {
		message = "document stored, indexing failed: " + err.Error()
	}
	return map[string]interface{}{
		"document_id":  documentID,
		"index_status": string(status),
		"message":      message,
	}
}

// handleIndexDocument handles the index_document tool invocation
func (s *Server) handleIndexDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	documentID, err := requireID(args, "document_id")
	if err != nil {
		return nil, err
	}

	res, err := s.indexer.IndexDocument(ctx, documentID)
	s.searcher.InvalidateCache()
	if err != nil {
		return nil, toMCPError("indexing failed", err)
	}

	return mcp.NewToolResultText(formatJSON(indexResultResponse(res))), nil
}

// handleResubmitDocument handles the resubmit_document tool invocation
func (s *Server) handleResubmitDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	documentID, err := requireID(args, "document_id")
	if err != nil {
		return nil, err
	}

	res, err := s.indexer.Resubmit(ctx, documentID)
	s.searcher.InvalidateCache()
	if err != nil {
		return nil, toMCPError("resubmission failed", err)
	}

	return mcp.NewToolResultText(formatJSON(indexResultResponse(res))), nil
}

// handleGetIndexState handles the get_index_state tool invocation
func (s *Server) handleGetIndexState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	documentID, err := requireID(args, "document_id")
	if err != nil {
		return nil, err
	}

	state, err := s.storage.GetIndexState(ctx, documentID)
	if err != nil {
		return nil, toMCPError("failed to get index state", err)
	}

	response := map[string]interface{}{
		"document_id":  state.DocumentID,
		"index_status": string(state.Status),
		"updated_at":   state.UpdatedAt.Format(time.RFC3339),
	}
	if state.ChunkCount != nil {
		response["chunk_count"] = *state.ChunkCount
	}
	if state.IndexedAt != nil {
		response["indexed_at"] = state.IndexedAt.Format(time.RFC3339)
	}
	if state.ErrorMessage != nil {
		response["error"] = *state.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRetrieveContext handles the retrieve_context tool invocation
func (s *Server) handleRetrieveContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	k := getIntDefault(args, "k", s.defaultK)
	if k < 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "k must be at least 1", map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}

	ret, err := s.searcher.Retrieve(ctx, projectID, query, k)
	if err != nil {
		return nil, toMCPError("retrieval failed", err)
	}

	results := make([]map[string]interface{}, len(ret.Results))
	for i, r := range ret.Results {
		results[i] = map[string]interface{}{
			"rank":           i + 1,
			"score":          r.Score,
			"document_id":    r.Chunk.DocumentID,
			"document_title": r.DocumentTitle,
			"ordinal":        r.Chunk.Ordinal,
			"text":           r.Chunk.Text,
		}
	}

	incomplete := ret.IncompleteDocuments
	if incomplete == nil {
		incomplete = []int64{}
	}

	response := map[string]interface{}{
		"project_id":           projectID,
		"results":              results,
		"total_results":        len(results),
		"incomplete_documents": incomplete,
	}
	if len(ret.IncompleteDocuments) > 0 {
		response["message"] = "some documents in this project are not fully indexed; results may be incomplete"
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSyncEmbeddings handles the sync_embeddings tool invocation
func (s *Server) handleSyncEmbeddings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := s.backfill.SyncAll(ctx)
	if run == nil {
		return nil, toMCPError("sync failed", err)
	}

	response := map[string]interface{}{
		"run_id":      run.ID.String(),
		"started_at":  run.StartedAt.Format(time.RFC3339),
		"duration_ms": run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		"cancelled":   run.Cancelled,
		"projects":    statsResponse(run.Projects),
		"tasks":       statsResponse(run.Tasks),
		"documents":   statsResponse(run.Documents),
	}
	if len(run.Errors) > 0 {
		response["errors"] = run.Errors
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, toMCPError("failed to get status", err)
	}

	missing := make(map[string]int, len(status.MissingEmbeddings))
	for kind, n := range status.MissingEmbeddings {
		missing[string(kind)] = n
	}
	byStatus := make(map[string]int, len(status.DocumentsByStatus))
	for st, n := range status.DocumentsByStatus {
		byStatus[string(st)] = n
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"dimension":          status.Dimension,
			"projects_count":     status.Projects,
			"tasks_count":        status.Tasks,
			"documents_count":    status.Documents,
			"chunks_count":       status.Chunks,
			"embedded_chunks":    status.EmbeddedChunks,
			"index_size_mb":      fmt.Sprintf("%.2f", status.IndexSizeMB),
			"missing_embeddings": missing,
			"documents":          byStatus,
		},
	}
	if s.provider != nil {
		response["provider"] = map[string]interface{}{
			"name":           s.provider.ProviderName(),
			"available":      s.provider.IsAvailable(),
			"failed_batches": s.provider.FailedBatches(),
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func indexResultResponse(res *indexer.Result) map[string]interface{} {
	response := map[string]interface{}{
		"document_id":  res.DocumentID,
		"index_status": string(res.Status),
		"chunks":       res.Chunks,
		"embedded":     res.Embedded,
		"duration_ms":  res.Duration.Milliseconds(),
	}
	if res.Error != "" {
		response["error"] = res.Error
	}
	return response
}

func statsResponse(st backfill.Stats) map[string]interface{} {
	return map[string]interface{}{
		"total":  st.Total,
		"synced": st.Synced,
		"failed": st.Failed,
	}
}

// toMCPError maps pipeline errors to MCP error codes
func toMCPError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		code = ErrorCodeInvalidParams
	case errors.Is(err, types.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, types.ErrAlreadyRunning):
		code = ErrorCodeSyncInProgress
	case errors.Is(err, types.ErrIndexingInProgress):
		code = ErrorCodeIndexingInProgress
	case errors.Is(err, types.ErrInvalidTransition):
		code = ErrorCodeInvalidTransition
	case errors.Is(err, types.ErrProviderUnavailable):
		code = ErrorCodeProviderUnavailable
	case errors.Is(err, types.ErrNoVector):
		code = ErrorCodeNoVector
	case errors.Is(err, types.ErrDimensionMismatch):
		code = ErrorCodeDimensionMismatch
	}
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    map[string]interface{}{"error": err.Error()},
		cause:   err,
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}

	cause error
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func (e *MCPError) Unwrap() error {
	return e.cause
}

// arguments extracts the argument map; a call without arguments gets an empty one
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// requireString extracts a non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// requireID extracts a positive integer id parameter
func requireID(args map[string]interface{}, key string) (int64, error) {
	id := getIntDefault(args, key, 0)
	if id < 1 {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or not a positive integer",
		})
	}
	return int64(id), nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
