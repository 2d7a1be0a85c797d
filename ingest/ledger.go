package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
)

const LedgerFile = "ingested_meta.json"

// LedgerState tells how the ledger was obtained when an index was opened.
type LedgerState int

const (
	LedgerMissing LedgerState = iota
	LedgerLoaded
	LedgerCorrupt
)

func (s LedgerState) String() string {
	switch s {
	case LedgerMissing:
		return "missing"
	case LedgerLoaded:
		return "loaded"
	case LedgerCorrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("LedgerState(%d)", int(s))
	}
}

const ledgerSchema = `{
	"type": "object",
	"required": ["rows"],
	"properties": {
		"rows": {
			"type": "object",
			"additionalProperties": {"type": "boolean"}
		}
	}
}`

var ledgerValidator = mustSchema(ledgerSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid ledger schema: %s", err))
	}

	return s
}

type ledgerDoc struct {
	Rows map[string]bool `json:"rows"`
}

// readLedger never fails: a missing file yields LedgerMissing, anything that
// cannot be read, parsed or validated yields LedgerCorrupt together with the cause.
func readLedger(path string) (map[string]bool, LedgerState, error) {
	rows := make(map[string]bool)

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return rows, LedgerMissing, nil
	}
	if err != nil {
		return rows, LedgerCorrupt, fmt.Errorf("read ledger: %w", err)
	}

	res, err := ledgerValidator.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return rows, LedgerCorrupt, fmt.Errorf("parse ledger: %w", err)
	}
	if !res.Valid() {
		return rows, LedgerCorrupt, fmt.Errorf("invalid ledger: %s", res.Errors()[0])
	}

	var doc ledgerDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return rows, LedgerCorrupt, fmt.Errorf("decode ledger: %w", err)
	}

	for k, v := range doc.Rows {
		if v {
			rows[k] = true
		}
	}

	return rows, LedgerLoaded, nil
}

func writeLedger(path string, rows map[string]bool) error {
	raw, err := json.Marshal(ledgerDoc{Rows: rows})
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	return writeFileAtomic(path, raw)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}
