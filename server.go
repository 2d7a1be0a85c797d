package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gamma-omg/doc-portal/ingest"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type docIndex interface {
	Search(ctx context.Context, query string, k int) ([]ingest.SearchResult, error)
	Exists() bool
	Len() int
	LedgerState() ingest.LedgerState
	Dir() string
}

type fileIngester interface {
	IngestInboxFile(ctx context.Context, path string) (IngestReport, error)
}

type ragTools struct {
	index   docIndex
	files   fileIngester
	results int
}

func NewRagServer(index docIndex, files fileIngester, results int) *server.MCPServer {
	t := &ragTools{index: index, files: files, results: results}

	srv := server.NewMCPServer("doc-portal", "0.1.0", server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Search the ingested documents and return the most similar chunks"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("k",
			mcp.Description("Number of results"),
		)), t.search)

	srv.AddTool(mcp.NewTool("ingest_document",
		mcp.WithDescription("Ingest a document from the server's inbox directory; chunks already in the index are skipped"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path of a .pdf, .docx or .txt file inside the inbox, absolute or relative to it"),
		)), t.ingest)

	srv.AddTool(mcp.NewTool("index_status",
		mcp.WithDescription("Report whether the index exists and how many chunks it holds")), t.status)

	return srv
}

func (t *ragTools) search(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.index.Search(ctx, q, request.GetInt("k", t.results))
	if errors.Is(err, ingest.ErrNotInitialized) {
		return mcp.NewToolResultError("no documents have been ingested yet"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var response strings.Builder
	for _, r := range res {
		raw, err := json.Marshal(struct {
			Score float32 `json:"score"`
			File  any     `json:"file"`
			Text  string  `json:"text"`
		}{
			Score: r.Score,
			File:  r.Metadata[ingest.MetaSource],
			Text:  r.Text,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		fmt.Fprintf(&response, "%s\n", raw)
	}

	return mcp.NewToolResultText(response.String()), nil
}

func (t *ragTools) ingest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	report, err := t.files.IngestInboxFile(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(raw)), nil
}

func (t *ragTools) status(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(struct {
		Dir    string `json:"dir"`
		Exists bool   `json:"exists"`
		Chunks int    `json:"chunks"`
		Ledger string `json:"ledger"`
	}{
		Dir:    t.index.Dir(),
		Exists: t.index.Exists(),
		Chunks: t.index.Len(),
		Ledger: t.index.LedgerState().String(),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(raw)), nil
}
