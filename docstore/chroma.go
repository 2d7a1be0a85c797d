package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/gamma-omg/doc-portal/ingest"
	"github.com/spf13/cast"
)

type collection interface {
	Add(ctx context.Context, opts ...chroma.CollectionUpdateOption) error
	Query(ctx context.Context, opts ...chroma.CollectionQueryOption) (chroma.QueryResult, error)
	Count(ctx context.Context) (int, error)
}

type collectionOpener func(ctx context.Context, name string) (collection, error)

type ChromaStoreConfig struct {
	BaseURL       string
	EmbeddingFunc embeddings.EmbeddingFunction
	RequestSize   int
}

// ChromaStore keeps one Chroma collection per index directory. Chroma persists
// on its own, so Persist is a no-op and the directory only names the collection.
type ChromaStore struct {
	requestSize int
	open        collectionOpener
}

func NewChromaStore(cfg ChromaStoreConfig) (*ChromaStore, error) {
	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	return &ChromaStore{
		requestSize: cfg.RequestSize,
		open: func(ctx context.Context, name string) (collection, error) {
			col, err := client.GetOrCreateCollection(ctx, name, chroma.WithEmbeddingFunctionCreate(cfg.EmbeddingFunc))
			if err != nil {
				return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
			}

			return col, nil
		},
	}, nil
}

func (ds *ChromaStore) Exists(ctx context.Context, dir string) (bool, error) {
	col, err := ds.open(ctx, CollectionName(dir))
	if err != nil {
		return false, err
	}

	n, err := col.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count collection: %w", err)
	}

	return n > 0, nil
}

func (ds *ChromaStore) Load(ctx context.Context, dir string) (ingest.VectorIndex, error) {
	col, err := ds.open(ctx, CollectionName(dir))
	if err != nil {
		return nil, err
	}

	return &chromaIndex{col: col, requestSize: ds.requestSize}, nil
}

func (ds *ChromaStore) Create(ctx context.Context, dir string, chunks []ingest.Chunk) (ingest.VectorIndex, error) {
	idx, err := ds.Load(ctx, dir)
	if err != nil {
		return nil, err
	}

	if err := idx.Add(ctx, chunks); err != nil {
		return nil, err
	}

	return idx, nil
}

// CollectionName derives a valid Chroma collection name from an index directory.
func CollectionName(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	sum := sha256.Sum256([]byte(dir))
	return "portal-" + hex.EncodeToString(sum[:8])
}

type chromaIndex struct {
	col         collection
	requestSize int
}

func (ci *chromaIndex) Add(ctx context.Context, chunks []ingest.Chunk) error {
	texts := make([]string, 0, len(chunks))
	metas := make([]chroma.DocumentMetadata, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
		metas = append(metas, toMetadata(c.Metadata))
	}

	for _, b := range buckets(texts, ci.requestSize) {
		err := ci.col.Add(ctx,
			chroma.WithTexts(texts[b.from:b.to]...),
			chroma.WithIDGenerator(chroma.NewULIDGenerator()),
			chroma.WithMetadatas(metas[b.from:b.to]...),
		)
		if err != nil {
			return fmt.Errorf("failed to add chunks %d-%d: %w", b.from, b.to, err)
		}
	}

	return nil
}

func (ci *chromaIndex) Persist(ctx context.Context, dir string) error {
	return nil
}

func (ci *chromaIndex) Search(ctx context.Context, query string, k int) ([]ingest.SearchResult, error) {
	r, err := ci.col.Query(ctx,
		chroma.WithQueryTexts(query),
		chroma.WithNResults(k),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve texts: %w", err)
	}

	docGroups := r.GetDocumentsGroups()
	if len(docGroups) == 0 {
		return nil, nil
	}

	docs := docGroups[0]
	metadatas := r.GetMetadatasGroups()[0]
	scores := r.GetDistancesGroups()[0]

	res := make([]ingest.SearchResult, 0, len(docs))
	for i := range len(docs) {
		md := make(map[string]any)
		for _, key := range chromaKeys {
			if v, ok := metadatas[i].GetString(key); ok {
				md[key] = v
			}
		}

		res = append(res, ingest.SearchResult{
			Text:     docs[i].ContentString(),
			Metadata: md,
			Score:    float32(scores[i]),
		})
	}

	return res, nil
}

// toMetadata stores every value as a string so that Search can read the keys back uniformly.
func toMetadata(md map[string]any) chroma.DocumentMetadata {
	attrs := make([]*chroma.MetaAttribute, 0, len(md))
	for _, key := range chromaKeys {
		v, ok := md[key]
		if !ok || v == nil {
			continue
		}

		attrs = append(attrs, chroma.NewStringAttribute(key, cast.ToString(v)))
	}

	return chroma.NewDocumentMetadata(attrs...)
}
