package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gamma-omg/doc-portal/ingest"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDocIndex struct {
	mock.Mock
}

func (m *mockDocIndex) Search(ctx context.Context, query string, k int) ([]ingest.SearchResult, error) {
	args := m.Called(ctx, query, k)
	res, _ := args.Get(0).([]ingest.SearchResult)
	return res, args.Error(1)
}

func (m *mockDocIndex) Exists() bool { return m.Called().Bool(0) }
func (m *mockDocIndex) Len() int     { return m.Called().Int(0) }
func (m *mockDocIndex) LedgerState() ingest.LedgerState {
	return m.Called().Get(0).(ingest.LedgerState)
}
func (m *mockDocIndex) Dir() string { return m.Called().String(0) }

type mockFileIngester struct {
	mock.Mock
}

func (m *mockFileIngester) IngestInboxFile(ctx context.Context, path string) (IngestReport, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(IngestReport), args.Error(1)
}

func callTool(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func Test_searchDocuments(t *testing.T) {
	index := new(mockDocIndex)
	index.On("Search", mock.Anything, "what is go", 2).Return([]ingest.SearchResult{
		{Text: "go is a language", Metadata: map[string]any{"source": "go.txt"}, Score: 0.9},
		{Text: "gophers", Metadata: map[string]any{"source": "go.txt"}, Score: 0.5},
	}, nil)

	tools := &ragTools{index: index, results: 5}
	res, err := tools.search(context.Background(), callTool(map[string]any{"query": "what is go", "k": 2}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t,
		`{"score":0.9,"file":"go.txt","text":"go is a language"}`+"\n"+
			`{"score":0.5,"file":"go.txt","text":"gophers"}`+"\n",
		resultText(t, res))

	index.AssertExpectations(t)
}

func Test_searchDocuments_DefaultK(t *testing.T) {
	index := new(mockDocIndex)
	index.On("Search", mock.Anything, "q", 7).Return([]ingest.SearchResult{}, nil)

	tools := &ragTools{index: index, results: 7}
	res, err := tools.search(context.Background(), callTool(map[string]any{"query": "q"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	index.AssertExpectations(t)
}

func Test_searchDocuments_Errors(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		tools := &ragTools{index: new(mockDocIndex), results: 5}
		res, err := tools.search(context.Background(), callTool(map[string]any{}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("not initialized", func(t *testing.T) {
		index := new(mockDocIndex)
		index.On("Search", mock.Anything, "q", 5).Return(nil, &ingest.Error{Op: "search", Kind: ingest.ErrNotInitialized})

		tools := &ragTools{index: index, results: 5}
		res, err := tools.search(context.Background(), callTool(map[string]any{"query": "q"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "no documents have been ingested yet", resultText(t, res))
	})

	t.Run("provider failure", func(t *testing.T) {
		index := new(mockDocIndex)
		index.On("Search", mock.Anything, "q", 5).Return(nil, errors.New("rate limited"))

		tools := &ragTools{index: index, results: 5}
		res, err := tools.search(context.Background(), callTool(map[string]any{"query": "q"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res), "rate limited")
	})
}

func Test_ingestDocument(t *testing.T) {
	files := new(mockFileIngester)
	files.On("IngestInboxFile", mock.Anything, "/inbox/a.txt").
		Return(IngestReport{File: "/inbox/a.txt", Source: "a.txt", Chunks: 3, Added: 2}, nil)
	files.On("IngestInboxFile", mock.Anything, "/inbox/bad.txt").
		Return(IngestReport{}, errors.New("not valid UTF-8"))

	tools := &ragTools{files: files}

	res, err := tools.ingest(context.Background(), callTool(map[string]any{"path": "/inbox/a.txt"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"file":"/inbox/a.txt","source":"a.txt","chunks":3,"added":2}`, resultText(t, res))

	res, err = tools.ingest(context.Background(), callTool(map[string]any{"path": "/inbox/bad.txt"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tools.ingest(context.Background(), callTool(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	files.AssertExpectations(t)
}

func Test_ingestDocument_ConfinedToInbox(t *testing.T) {
	inbox := t.TempDir()
	outside := t.TempDir()

	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("private notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "shared.txt"), []byte("shared notes"), 0o644))

	index := new(fakeIndex)
	tools := &ragTools{files: testRegistry(inbox, index)}

	for _, path := range []string{secret, filepath.Join(inbox, "..", filepath.Base(outside), "secret.txt"), "../secret.txt"} {
		res, err := tools.ingest(context.Background(), callTool(map[string]any{"path": path}))
		require.NoError(t, err)
		assert.True(t, res.IsError, path)
	}
	assert.Empty(t, index.ingested())

	res, err := tools.ingest(context.Background(), callTool(map[string]any{"path": "shared.txt"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"shared.txt", "shared.txt", "shared.txt"}, index.ingested())
}

func Test_ingestDocument_NoInbox(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(doc, []byte("abc"), 0o644))

	index := new(fakeIndex)
	tools := &ragTools{files: testRegistry("", index)}

	res, err := tools.ingest(context.Background(), callTool(map[string]any{"path": doc}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, index.ingested())
}

func Test_indexStatus(t *testing.T) {
	index := new(mockDocIndex)
	index.On("Dir").Return("faiss_index/s1")
	index.On("Exists").Return(true)
	index.On("Len").Return(42)
	index.On("LedgerState").Return(ingest.LedgerLoaded)

	tools := &ragTools{index: index}
	res, err := tools.status(context.Background(), callTool(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"dir":"faiss_index/s1","exists":true,"chunks":42,"ledger":"loaded"}`, resultText(t, res))
}

func Test_NewRagServer(t *testing.T) {
	srv := NewRagServer(new(mockDocIndex), new(mockFileIngester), 5)
	require.NotNil(t, srv)
}
