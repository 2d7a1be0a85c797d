package docstore

// entry is one line of a local index file.
type entry struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Vector   []float32      `json:"vector"`
}

// Metadata keys kept by the Chroma collection.
const (
	FilePath  = "file_path"
	Source    = "source"
	RowID     = "row_id"
	SessionID = "session_id"
)

var chromaKeys = []string{Source, FilePath, RowID, SessionID}
