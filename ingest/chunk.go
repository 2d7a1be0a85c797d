package ingest

import "context"

// Metadata keys understood by Fingerprint.
const (
	MetaSource   = "source"
	MetaFilePath = "file_path"
	MetaRowID    = "row_id"
)

// Chunk is a unit of text plus scalar metadata, the unit of embedding and deduplication.
type Chunk struct {
	Text     string
	Metadata map[string]any
}

type SearchResult struct {
	Text     string
	Metadata map[string]any
	Score    float32
}

// VectorStore creates and loads vector indexes kept in a directory.
type VectorStore interface {
	Exists(ctx context.Context, dir string) (bool, error)
	Load(ctx context.Context, dir string) (VectorIndex, error)
	// Create builds a new index seeded with chunks; an index cannot be empty.
	Create(ctx context.Context, dir string, chunks []Chunk) (VectorIndex, error)
}

// VectorIndex is an opened similarity-search index.
type VectorIndex interface {
	Add(ctx context.Context, chunks []Chunk) error
	Persist(ctx context.Context, dir string) error
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}

// ChunkLister is implemented by vector indexes that can enumerate the chunks they hold.
// Open uses it to drop ledger rows whose vectors never reached the disk.
type ChunkLister interface {
	Chunks() []Chunk
}
