package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// documentIDProperty is shared by every per-document tool
var documentIDProperty = map[string]interface{}{
	"type":        "integer",
	"description": "Document id",
	"minimum":     1,
}

// createProjectTool returns the tool definition for create_project
func createProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_project",
		Description: "Create a project that documents and tasks can belong to",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Project title",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Optional project description",
				},
			},
			Required: []string{"title"},
		},
	}
}

// uploadDocumentTool returns the tool definition for upload_document
func uploadDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "upload_document",
		Description: "Store a document's extracted text in a project and index it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": map[string]interface{}{
					"type":        "integer",
					"description": "Project the document belongs to",
					"minimum":     1,
				},
				"task_id": map[string]interface{}{
					"type":        "integer",
					"description": "Optional task the document is attached to",
					"minimum":     1,
				},
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Document title",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Optional document description",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Extracted document text",
				},
			},
			Required: []string{"project_id", "title", "content"},
		},
	}
}

// updateDocumentContentTool returns the tool definition for update_document_content
func updateDocumentContentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_document_content",
		Description: "Replace a document's text. Changed content is re-indexed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"document_id": documentIDProperty,
				"content": map[string]interface{}{
					"type":        "string",
					"description": "New extracted document text",
				},
			},
			Required: []string{"document_id", "content"},
		},
	}
}

// indexDocumentTool returns the tool definition for index_document
func indexDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_document",
		Description: "Chunk and embed a PENDING document",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"document_id": documentIDProperty,
			},
			Required: []string{"document_id"},
		},
	}
}

// resubmitDocumentTool returns the tool definition for resubmit_document
func resubmitDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "resubmit_document",
		Description: "Re-index an INDEXED or FAILED document from scratch",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"document_id": documentIDProperty,
			},
			Required: []string{"document_id"},
		},
	}
}

// getIndexStateTool returns the tool definition for get_index_state
func getIndexStateTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_index_state",
		Description: "Report a document's indexing status, chunk count and last error",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"document_id": documentIDProperty,
			},
			Required: []string{"document_id"},
		},
	}
}

// retrieveContextTool returns the tool definition for retrieve_context
func retrieveContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve_context",
		Description: "Find the document passages of a project most relevant to a question",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": map[string]interface{}{
					"type":        "integer",
					"description": "Project to search; results never include other projects",
					"minimum":     1,
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question or keywords",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of passages to return (clamped to the server maximum)",
					"minimum":     1,
				},
			},
			Required: []string{"project_id", "query"},
		},
	}
}

// syncEmbeddingsTool returns the tool definition for sync_embeddings
func syncEmbeddingsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_embeddings",
		Description: "Embed every project, task and document summary that is missing an embedding",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report store statistics, missing embeddings and provider health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
