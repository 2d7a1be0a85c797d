package sessions

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ByteSource is anything an upload's content can be read from.
type ByteSource interface {
	ReadAll() ([]byte, error)
}

// FileSource reads a file from disk.
type FileSource string

func (p FileSource) ReadAll() ([]byte, error) {
	buf, err := os.ReadFile(string(p))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}

	return buf, nil
}

// ReaderSource drains an io.Reader, e.g. a multipart file or a request body.
type ReaderSource struct {
	R io.Reader
}

func (s ReaderSource) ReadAll() ([]byte, error) {
	buf, err := io.ReadAll(s.R)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}

	return buf, nil
}

type BytesSource []byte

func (b BytesSource) ReadAll() ([]byte, error) {
	return b, nil
}

// Upload is a named document handed to a session. Name is what the document is
// known as upstream (a file name or path); its extension decides whether it is accepted.
type Upload struct {
	Name   string
	Source ByteSource
}

// FileUpload uploads the file at path under its file name.
func FileUpload(path string) Upload {
	return Upload{Name: filepath.Base(path), Source: FileSource(path)}
}
