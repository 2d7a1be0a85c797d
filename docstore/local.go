package docstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/gamma-omg/doc-portal/ingest"
	"github.com/klauspost/compress/zstd"
)

const LocalIndexFile = "index.zst"

// LocalStore keeps each index as a zstd-compressed JSON-lines file inside the
// index directory and searches it by exhaustive cosine similarity.
type LocalStore struct {
	embedder Embedder
}

func NewLocalStore(embedder Embedder) *LocalStore {
	return &LocalStore{embedder: embedder}
}

func (s *LocalStore) Exists(ctx context.Context, dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, LocalIndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat local index: %w", err)
	}

	return true, nil
}

func (s *LocalStore) Load(ctx context.Context, dir string) (ingest.VectorIndex, error) {
	path := filepath.Join(dir, LocalIndexFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local index: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer dec.Close()

	idx := &localIndex{embedder: s.embedder}
	jd := json.NewDecoder(bufio.NewReader(dec))
	for {
		var e entry
		err := jd.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read local index entry %d: %w", len(idx.entries), err)
		}
		if err := idx.checkDim(e.Vector); err != nil {
			return nil, fmt.Errorf("corrupt local index entry %d: %w", len(idx.entries), err)
		}

		idx.entries = append(idx.entries, e)
	}

	if len(idx.entries) == 0 {
		return nil, fmt.Errorf("local index %s holds no vectors", path)
	}

	return idx, nil
}

func (s *LocalStore) Create(ctx context.Context, dir string, chunks []ingest.Chunk) (ingest.VectorIndex, error) {
	if len(chunks) == 0 {
		return nil, errors.New("cannot create an empty index")
	}

	idx := &localIndex{embedder: s.embedder}
	if err := idx.Add(ctx, chunks); err != nil {
		return nil, err
	}

	return idx, nil
}

type localIndex struct {
	embedder Embedder
	dim      int
	entries  []entry
}

func (idx *localIndex) Add(ctx context.Context, chunks []ingest.Chunk) error {
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}

	vecs, err := idx.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	added := make([]entry, 0, len(chunks))
	dim := idx.dim
	for i, c := range chunks {
		if dim == 0 {
			dim = len(vecs[i])
		}
		if len(vecs[i]) == 0 || len(vecs[i]) != dim {
			return fmt.Errorf("vector dimension mismatch: want %d, got %d", dim, len(vecs[i]))
		}

		added = append(added, entry{
			Text:     c.Text,
			Metadata: c.Metadata,
			Vector:   vecs[i],
		})
	}

	idx.dim = dim
	idx.entries = append(idx.entries, added...)
	return nil
}

func (idx *localIndex) Chunks() []ingest.Chunk {
	chunks := make([]ingest.Chunk, 0, len(idx.entries))
	for _, e := range idx.entries {
		chunks = append(chunks, ingest.Chunk{Text: e.Text, Metadata: e.Metadata})
	}

	return chunks
}

func (idx *localIndex) Persist(ctx context.Context, dir string) error {
	path := filepath.Join(dir, LocalIndexFile)
	tmp, err := os.CreateTemp(dir, "."+LocalIndexFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := idx.encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace index file: %w", err)
	}

	return nil
}

func (idx *localIndex) encode(w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to open zstd stream: %w", err)
	}

	je := json.NewEncoder(enc)
	je.SetEscapeHTML(false)
	for i, e := range idx.entries {
		if err := je.Encode(e); err != nil {
			enc.Close()
			return fmt.Errorf("failed to write index entry %d: %w", i, err)
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush zstd stream: %w", err)
	}

	return nil
}

func (idx *localIndex) Search(ctx context.Context, query string, k int) ([]ingest.SearchResult, error) {
	q, err := idx.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(q) != idx.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(q), idx.dim)
	}

	res := make([]ingest.SearchResult, 0, len(idx.entries))
	qn := norm(q)
	for _, e := range idx.entries {
		res = append(res, ingest.SearchResult{
			Text:     e.Text,
			Metadata: e.Metadata,
			Score:    cosine(q, e.Vector, qn),
		})
	}

	slices.SortStableFunc(res, func(a, b ingest.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	return res[:min(k, len(res))], nil
}

func (idx *localIndex) checkDim(v []float32) error {
	if idx.dim == 0 {
		idx.dim = len(v)
	}
	if len(v) == 0 || len(v) != idx.dim {
		return fmt.Errorf("vector dimension mismatch: want %d, got %d", idx.dim, len(v))
	}

	return nil
}

func cosine(a, b []float32, na float64) float32 {
	nb := norm(b)
	if na == 0 || nb == 0 {
		return 0
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	return float32(dot / (na * nb))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	return math.Sqrt(sum)
}
