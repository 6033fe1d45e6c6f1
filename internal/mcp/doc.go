// Package mcp implements the Model Context Protocol (MCP) server for projectrag.
//
// The server exposes the indexing and retrieval pipeline to MCP clients:
//   - create_project: Create a project
//   - upload_document: Store a document's extracted text and index it
//   - update_document_content: Replace a document's text, re-indexing on change
//   - index_document: Index a PENDING document
//   - resubmit_document: Re-index an INDEXED or FAILED document
//   - get_index_state: Report a document's indexing status
//   - retrieve_context: Nearest-neighbor passage retrieval within one project
//   - sync_embeddings: Embed every summary row missing an embedding
//   - get_status: Store statistics and provider health
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport. The server reads
// requests from stdin and writes responses to stdout; logs go to stderr.
//
// # Tool: retrieve_context
//
//	Request:
//	{
//	  "name": "retrieve_context",
//	  "arguments": {
//	    "project_id": 3,
//	    "query": "what are the acceptance criteria for the export job",
//	    "k": 5
//	  }
//	}
//
//	Response:
//	{
//	  "project_id": 3,
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.87,
//	      "document_id": 12,
//	      "document_title": "Export requirements",
//	      "ordinal": 4,
//	      "text": "..."
//	    }
//	  ],
//	  "total_results": 1,
//	  "incomplete_documents": []
//	}
//
// Results never include chunks from another project. When a document of the
// project is PENDING, PROCESSING or FAILED it is listed in
// incomplete_documents so the caller knows the results may be partial.
//
// # Indexing on upload
//
// upload_document and update_document_content index synchronously. If the
// provider is unavailable the document is still stored and stays PENDING;
// the response says so and the scheduler drains it later.
//
// # Error Handling
//
// Handlers return *MCPError values:
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32001: Project, task or document not found
//   - -32002: Sync already running
//   - -32003: Document indexing in progress
//   - -32004: Invalid index state transition
//   - -32005: Embedding provider unavailable
//   - -32006: Provider returned no vector for the query
//   - -32007: Empty query
//   - -32008: Provider vector dimension does not match the store
//
// MCPError unwraps to the pipeline sentinel error, so errors.Is works on
// the handler's return value.
package mcp
