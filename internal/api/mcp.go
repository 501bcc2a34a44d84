package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docqa/internal/answer"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Documents DocumentService
	Search    Searcher
	Answers   *answer.Engine
	TopK      int
}

// NewMCPServer creates an MCP server with the docqa tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	s := server.NewMCPServer(
		"docqa",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docqa answers questions from an indexed document collection."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search the indexed documents and return the most similar chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("answer_question",
			mcp.WithDescription("Answer a question from the indexed documents, citing the chunks used."),
			mcp.WithString("question", mcp.Description("Natural-language question"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("Chunks to retrieve (default 5)")),
		),
		mcpAnswer(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_text",
			mcp.WithDescription("Index a plain-text document so it can be searched and used for answers."),
			mcp.WithString("text", mcp.Description("Document text"), mcp.Required()),
			mcp.WithString("filename", mcp.Description("Optional display name")),
			mcp.WithString("id", mcp.Description("Optional document id; generated when omitted")),
		),
		mcpIngestText(deps),
	)

	s.AddTool(
		mcp.NewTool("index_stats",
			mcp.WithDescription("Report document and chunk counts of the index."),
		),
		mcpStats(deps),
	)

	return s
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", deps.TopK)
		if limit <= 0 {
			limit = deps.TopK
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Search.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type chunkResult struct {
			DocumentID string  `json:"document_id"`
			Filename   string  `json:"filename,omitempty"`
			Index      int     `json:"chunk_index"`
			Text       string  `json:"text"`
			Similarity float32 `json:"similarity"`
		}

		out := make([]chunkResult, len(results))
		for i, r := range results {
			out[i] = chunkResult{
				DocumentID: r.Chunk.DocumentID,
				Filename:   r.Chunk.Metadata[retrieval.MetaFilename],
				Index:      r.Chunk.Index,
				Text:       r.Chunk.Text,
				Similarity: r.Similarity,
			}
		}
		return mcpJSON(out)
	}
}

func mcpAnswer(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		k := req.GetInt("k", deps.TopK)
		if k <= 0 {
			k = deps.TopK
		}

		res, err := deps.Answers.Answer(ctx, question, k)
		if err != nil {
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpIngestText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		d, err := deps.Documents.IngestDocument(ctx, storage.Document{
			ID:       req.GetString("id", ""),
			Filename: req.GetString("filename", "mcp.txt"),
			FileType: "text/plain",
			Text:     text,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ingest failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Indexed document %s (%d chunks)", d.ID, d.ChunkCount)), nil
	}
}

func mcpStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Documents.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
