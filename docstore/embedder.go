package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"golang.org/x/time/rate"
)

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type chromaEmbedder struct {
	ef embeddings.EmbeddingFunction
}

// FromEmbeddingFunction adapts a chroma embedding function (OpenAI, Gemini, ...) to Embedder.
func FromEmbeddingFunction(ef embeddings.EmbeddingFunction) Embedder {
	return &chromaEmbedder{ef: ef}
}

func (e *chromaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	embs, err := e.ef.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}

	res := make([][]float32, 0, len(embs))
	for _, emb := range embs {
		res = append(res, emb.ContentAsFloat32())
	}

	return res, nil
}

func (e *chromaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	emb, err := e.ef.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	return emb.ContentAsFloat32(), nil
}

// BatchEmbedder splits documents into requests of at most requestSize bytes of
// text and paces the requests with a rate limiter.
type BatchEmbedder struct {
	embedder    Embedder
	requestSize int
	limiter     *rate.Limiter
}

// NewBatchEmbedder wraps e. A requestSize <= 0 sends everything at once; perSecond <= 0 disables pacing.
func NewBatchEmbedder(e Embedder, requestSize int, perSecond float64) *BatchEmbedder {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	return &BatchEmbedder{
		embedder:    e,
		requestSize: requestSize,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

func (b *BatchEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, 0, len(texts))
	for _, bucket := range buckets(texts, b.requestSize) {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for embedding quota: %w", err)
		}

		vecs, err := b.embedder.EmbedDocuments(ctx, texts[bucket.from:bucket.to])
		if err != nil {
			return nil, fmt.Errorf("failed to embed documents %d-%d: %w", bucket.from, bucket.to, err)
		}
		if len(vecs) != bucket.to-bucket.from {
			return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(vecs), bucket.to-bucket.from)
		}

		res = append(res, vecs...)
	}

	return res, nil
}

func (b *BatchEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for embedding quota: %w", err)
	}

	vec, err := b.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, errors.New("embedding provider returned an empty vector")
	}

	return vec, nil
}

type bucket struct {
	from, to int
}

// buckets groups consecutive texts so that each group holds at most size bytes.
// A text longer than size gets a group of its own.
func buckets(texts []string, size int) []bucket {
	if len(texts) == 0 {
		return nil
	}
	if size <= 0 {
		return []bucket{{0, len(texts)}}
	}

	var res []bucket
	from, total := 0, 0
	for i, t := range texts {
		if i > from && total+len(t) > size {
			res = append(res, bucket{from, i})
			from, total = i, 0
		}
		total += len(t)
	}

	return append(res, bucket{from, len(texts)})
}
