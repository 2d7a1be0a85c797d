package docstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gamma-omg/doc-portal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Test_LocalStore_CreatePersistLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(&letterEmbedder{})

	exists, err := store.Exists(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, exists)

	idx, err := store.Create(context.Background(), dir, []ingest.Chunk{
		{Text: "apples and apricots", Metadata: map[string]any{"source": "fruit.txt", "row_id": 0}},
		{Text: "zebra zoo", Metadata: map[string]any{"source": "zoo.txt", "row_id": 0}},
	})
	require.NoError(t, err)
	require.NoError(t, idx.Persist(context.Background(), dir))

	exists, err = store.Exists(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := store.Load(context.Background(), dir)
	require.NoError(t, err)

	res, err := loaded.Search(context.Background(), "zzz", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "zebra zoo", res[0].Text)
	assert.Equal(t, "zoo.txt", res[0].Metadata["source"])
}

func Test_LocalStore_AddKeepsOrderAndRanks(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(&letterEmbedder{})

	idx, err := store.Create(context.Background(), dir, []ingest.Chunk{{Text: "aaa"}})
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), []ingest.Chunk{{Text: "bbb"}, {Text: "ccc"}}))

	res, err := idx.Search(context.Background(), "ab", 10)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "aaa", res[0].Text)
	assert.Equal(t, "bbb", res[1].Text)
	assert.Equal(t, float32(0), res[2].Score)

	local := idx.(*localIndex)
	assert.Equal(t, "ccc", local.entries[2].Text)
}

func Test_LocalStore_AddFailureKeepsIndex(t *testing.T) {
	inner := new(mockEmbedder)
	inner.On("EmbedDocuments", mock.Anything, []string{"first"}).Return([][]float32{{1, 0}}, nil)
	inner.On("EmbedDocuments", mock.Anything, []string{"second"}).Return(nil, errors.New("quota exceeded"))

	store := NewLocalStore(inner)
	idx, err := store.Create(context.Background(), t.TempDir(), []ingest.Chunk{{Text: "first"}})
	require.NoError(t, err)

	assert.Error(t, idx.Add(context.Background(), []ingest.Chunk{{Text: "second"}}))
	assert.Len(t, idx.(*localIndex).entries, 1)
}

func Test_LocalStore_DimensionMismatch(t *testing.T) {
	inner := new(mockEmbedder)
	inner.On("EmbedDocuments", mock.Anything, []string{"a", "b"}).Return([][]float32{{1, 0}, {1}}, nil)

	_, err := NewLocalStore(inner).Create(context.Background(), t.TempDir(), []ingest.Chunk{{Text: "a"}, {Text: "b"}})
	assert.Error(t, err)
}

func Test_LocalStore_CreateEmpty(t *testing.T) {
	_, err := NewLocalStore(&letterEmbedder{}).Create(context.Background(), t.TempDir(), nil)
	assert.Error(t, err)
}

func Test_LocalStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LocalIndexFile), []byte("not zstd"), 0o644))

	_, err := NewLocalStore(&letterEmbedder{}).Load(context.Background(), dir)
	assert.Error(t, err)
}

func Test_LocalStore_WithIngestIndex(t *testing.T) {
	dir := t.TempDir()
	embedder := &letterEmbedder{}
	store := NewLocalStore(embedder)

	idx, err := ingest.Open(context.Background(), dir, store, discardLogger())
	require.NoError(t, err)

	chunks := []ingest.Chunk{
		{Text: "one", Metadata: map[string]any{"source": "a.txt", "row_id": 0}},
		{Text: "two", Metadata: map[string]any{"source": "a.txt", "row_id": 1}},
		{Text: "three", Metadata: map[string]any{"source": "a.txt", "row_id": 2}},
	}
	added, err := idx.Ingest(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.FileExists(t, filepath.Join(dir, LocalIndexFile))
	assert.FileExists(t, filepath.Join(dir, ingest.LedgerFile))

	reopened, err := ingest.Open(context.Background(), dir, store, discardLogger())
	require.NoError(t, err)
	calls := embedder.calls

	added, err = reopened.Ingest(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, calls, embedder.calls)

	res, err := reopened.Search(context.Background(), "three", 1)
	require.NoError(t, err)
	assert.Equal(t, "three", res[0].Text)
}

func Test_LocalStore_LedgerAheadOfIndex(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(&letterEmbedder{})

	idx, err := ingest.Open(context.Background(), dir, store, discardLogger())
	require.NoError(t, err)

	chunks := []ingest.Chunk{
		{Text: "one", Metadata: map[string]any{"source": "a.txt", "row_id": 0}},
		{Text: "two", Metadata: map[string]any{"source": "a.txt", "row_id": 1}},
		{Text: "three", Metadata: map[string]any{"source": "a.txt", "row_id": 2}},
	}
	_, err = idx.Ingest(context.Background(), chunks[:2])
	require.NoError(t, err)

	// the ledger made it to disk, the vectors for row 2 did not
	ledger := `{"rows":{"a.txt::0":true,"a.txt::1":true,"a.txt::2":true}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ingest.LedgerFile), []byte(ledger), 0o644))

	reopened, err := ingest.Open(context.Background(), dir, store, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	added, err := reopened.Ingest(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	res, err := reopened.Search(context.Background(), "three", 1)
	require.NoError(t, err)
	assert.Equal(t, "three", res[0].Text)
}
