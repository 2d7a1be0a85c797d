package main

import (
	"github.com/gamma-omg/doc-portal/docstore"
	"github.com/gamma-omg/doc-portal/ingest"
)

// DefaultChunkifier splits text into windows of chunkSize runes, each starting
// chunkSize-chunkOverlap runes after the previous one.
type DefaultChunkifier struct {
	chunkSize    int
	chunkOverlap int
}

func NewChunkifier(size, overlap int) *DefaultChunkifier {
	return &DefaultChunkifier{chunkSize: max(size, 1), chunkOverlap: max(overlap, 0)}
}

func (c *DefaultChunkifier) Chunkify(text string) []string {
	runes := []rune(text)
	l := len(runes)
	if l == 0 {
		return []string{}
	}

	step := max(c.chunkSize-c.chunkOverlap, 1)
	pos := 0
	res := make([]string, 0, l/step+1)

	for {
		end := min(pos+c.chunkSize, l)
		res = append(res, string(runes[pos:end]))
		if end >= l {
			break
		}

		pos += step
	}

	return res
}

// documentChunks tags each part of a document with its provenance. row_id is the
// part's position, so re-reading the same document yields the same fingerprints.
func documentChunks(parts []string, source, path, sessionID string) []ingest.Chunk {
	chunks := make([]ingest.Chunk, 0, len(parts))
	for i, p := range parts {
		md := map[string]any{
			ingest.MetaSource:   source,
			ingest.MetaFilePath: path,
			ingest.MetaRowID:    i,
		}
		if sessionID != "" {
			md[docstore.SessionID] = sessionID
		}

		chunks = append(chunks, ingest.Chunk{Text: p, Metadata: md})
	}

	return chunks
}
