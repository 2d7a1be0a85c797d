// Package readers extracts plain text from uploaded documents.
package readers

import (
	"fmt"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv/v2"
)

type FileReader interface {
	CanRead(path string) bool
	ReadText(path string) (string, error)
}

// UniversalFileReader converts office and PDF documents through docconv.
type UniversalFileReader struct {
}

var docconvExts = map[string]bool{
	".pdf":  true,
	".docx": true,
	".odt":  true,
	".xml":  true,
}

func (r *UniversalFileReader) CanRead(path string) bool {
	return docconvExts[strings.ToLower(filepath.Ext(path))]
}

func (r *UniversalFileReader) ReadText(path string) (string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to read document %s: %w", filepath.Base(path), err)
	}

	return res.Body, nil
}

// Default returns the readers for every supported upload type.
func Default() []FileReader {
	return []FileReader{&TxtFileReader{}, &UniversalFileReader{}}
}

// Find returns the first reader able to read path.
func Find(readers []FileReader, path string) (FileReader, error) {
	for _, r := range readers {
		if r.CanRead(path) {
			return r, nil
		}
	}

	return nil, fmt.Errorf("unable to find reader for file type: %s", filepath.Ext(path))
}
