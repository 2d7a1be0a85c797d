package ingest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/spf13/cast"
)

// Fingerprint returns the deduplication key of a chunk: "source::row_id" when the
// chunk has provenance metadata, the hex SHA-256 of its text otherwise.
//
// Chunks sharing source and row_id collapse to one key even if their text differs.
func Fingerprint(c Chunk) string {
	src, ok := provenance(c.Metadata)
	if !ok {
		sum := sha256.Sum256([]byte(c.Text))
		return hex.EncodeToString(sum[:])
	}

	rowID := ""
	if v, ok := c.Metadata[MetaRowID]; ok && v != nil {
		rowID = cast.ToString(v)
	}

	return src + "::" + rowID
}

func provenance(md map[string]any) (string, bool) {
	for _, key := range []string{MetaSource, MetaFilePath} {
		v, ok := md[key]
		if !ok || v == nil {
			continue
		}

		if s := cast.ToString(v); s != "" {
			return s, true
		}
	}

	return "", false
}
