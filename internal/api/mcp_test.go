package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func newTestMCPDeps(t *testing.T, eng *fakeEngine) MCPDeps {
	t.Helper()
	env := setupAppHandler(t, "", eng)
	return MCPDeps{
		Documents: env.deps.Documents,
		Search:    env.deps.Search,
		Answers:   env.deps.Answers,
		TopK:      3,
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return result
}

func TestMCPTool_IngestSearchAnswer(t *testing.T) {
	deps := newTestMCPDeps(t, &fakeEngine{reply: "Fire is covered."})

	result := callTool(t, mcpIngestText(deps), "ingest_text", map[string]interface{}{
		"text":     "The policy covers fire damage.",
		"filename": "policy.txt",
		"id":       "policy",
	})
	if result.IsError {
		t.Fatalf("ingest_text failed: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "policy") {
		t.Errorf("ingest_text result = %q", toolText(t, result))
	}

	result = callTool(t, mcpSearch(deps), "search_documents", map[string]interface{}{"query": "fire", "limit": 5})
	if result.IsError {
		t.Fatalf("search_documents failed: %s", toolText(t, result))
	}
	var chunks []struct {
		DocumentID string `json:"document_id"`
		Filename   string `json:"filename"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &chunks); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(chunks) != 1 || chunks[0].DocumentID != "policy" || chunks[0].Filename != "policy.txt" {
		t.Fatalf("chunks = %+v", chunks)
	}

	result = callTool(t, mcpAnswer(deps), "answer_question", map[string]interface{}{"question": "Is fire covered?"})
	if result.IsError {
		t.Fatalf("answer_question failed: %s", toolText(t, result))
	}
	var ans struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &ans); err != nil {
		t.Fatalf("failed to parse answer: %v", err)
	}
	if ans.Answer != "Fire is covered." {
		t.Errorf("answer = %q", ans.Answer)
	}

	result = callTool(t, mcpStats(deps), "index_stats", nil)
	if result.IsError {
		t.Fatalf("index_stats failed: %s", toolText(t, result))
	}
	var st struct {
		TotalDocuments int `json:"total_documents"`
		Chunks         int `json:"chunks"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &st); err != nil {
		t.Fatalf("failed to parse stats: %v", err)
	}
	if st.TotalDocuments != 1 || st.Chunks != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMCPTool_Search_EmptyIndex(t *testing.T) {
	deps := newTestMCPDeps(t, &fakeEngine{})
	result := callTool(t, mcpSearch(deps), "search_documents", map[string]interface{}{"query": "anything"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if toolText(t, result) != "[]" {
		t.Errorf("result = %q, want []", toolText(t, result))
	}
}

func TestMCPTool_MissingArguments(t *testing.T) {
	deps := newTestMCPDeps(t, &fakeEngine{})

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
	}{
		{"search_documents", mcpSearch(deps)},
		{"answer_question", mcpAnswer(deps)},
		{"ingest_text", mcpIngestText(deps)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, tt.handler, tt.name, map[string]interface{}{})
			if !result.IsError {
				t.Errorf("expected error result, got %q", toolText(t, result))
			}
		})
	}
}

func TestMCPTool_IngestEmptyText(t *testing.T) {
	deps := newTestMCPDeps(t, &fakeEngine{})
	result := callTool(t, mcpIngestText(deps), "ingest_text", map[string]interface{}{"text": "   "})
	if !result.IsError {
		t.Errorf("expected error for blank text, got %q", toolText(t, result))
	}
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(newTestMCPDeps(t, &fakeEngine{})); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
