package readers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

type TxtFileReader struct{}

func (r *TxtFileReader) CanRead(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}

func (r *TxtFileReader) ReadText(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("text file %s is not valid UTF-8", filepath.Base(path))
	}

	return string(buf), nil
}
