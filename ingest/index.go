// Package ingest keeps a vector index free of duplicate chunks. Every chunk added to the
// index is recorded by fingerprint in a ledger stored next to it, so ingesting the same
// documents again (in the same process or after a restart) adds nothing.
//
// An Index serializes its own calls, but two handles or two processes working on the same
// directory are not coordinated: callers must run at most one ingesting handle per directory.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const DefaultResults = 5

type Index struct {
	log   *slog.Logger
	dir   string
	store VectorStore

	mu          sync.Mutex
	vectors     VectorIndex
	rows        map[string]bool
	ledgerState LedgerState
	dirty       bool
}

// Open prepares dir, loads the vector index kept there if there is one and reads
// the ledger. A missing or malformed ledger is not an error; it starts empty.
func Open(ctx context.Context, dir string, store VectorStore, log *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Op: "open", Dir: dir, Kind: ErrConfiguration, Err: err}
	}

	idx := &Index{
		log:   log.With("dir", dir),
		dir:   dir,
		store: store,
	}

	rows, state, cause := readLedger(idx.ledgerPath())
	if state == LedgerCorrupt {
		idx.log.Warn("ledger unreadable, starting with an empty one", "error", cause)
	}
	idx.rows = rows
	idx.ledgerState = state

	exists, err := store.Exists(ctx, dir)
	if err != nil {
		return nil, &Error{Op: "open", Dir: dir, Kind: ErrStorage, Err: err}
	}

	if exists {
		idx.vectors, err = store.Load(ctx, dir)
		if err != nil {
			return nil, &Error{Op: "open", Dir: dir, Kind: ErrStorage, Err: err}
		}
		idx.dropUnstored()
	} else if len(idx.rows) > 0 {
		// no vectors behind these rows; keeping them would skip chunks that were never stored
		idx.log.Warn("dropping ledger rows without a vector index", "rows", len(idx.rows))
		idx.rows = make(map[string]bool)
		idx.dirty = true
	}

	idx.log.Info("index opened", "ledger", state.String(), "rows", len(idx.rows), "vectors", exists)
	return idx, nil
}

// Ingest adds the chunks whose fingerprints have not been seen yet, in their input
// order, and returns how many were added.
//
// When persisting fails the in-memory ledger keeps the new fingerprints and the
// handle stays dirty: calling Ingest again with the same chunks adds nothing and
// retries the write.
func (idx *Index) Ingest(ctx context.Context, chunks []Chunk) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(chunks) == 0 && idx.vectors == nil {
		return 0, &Error{Op: "ingest", Dir: idx.dir, Kind: ErrNotInitialized}
	}

	fresh := make([]Chunk, 0, len(chunks))
	keys := make([]string, 0, len(chunks))
	batch := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		key := Fingerprint(c)
		if idx.rows[key] {
			continue
		}
		if _, ok := batch[key]; ok {
			continue
		}

		batch[key] = struct{}{}
		fresh = append(fresh, c)
		keys = append(keys, key)
	}

	skipped := len(chunks) - len(fresh)
	if len(fresh) == 0 {
		if idx.vectors == nil {
			return 0, &Error{Op: "ingest", Dir: idx.dir, Kind: ErrNotInitialized}
		}

		idx.log.Debug("nothing new to ingest", "skipped", skipped)
		return 0, idx.flush(ctx)
	}

	if idx.vectors == nil {
		v, err := idx.store.Create(ctx, idx.dir, fresh)
		if err != nil {
			return 0, &Error{Op: "create index", Dir: idx.dir, Fingerprint: keys[0], Kind: ErrExternalService, Err: err}
		}
		idx.vectors = v
	} else if err := idx.vectors.Add(ctx, fresh); err != nil {
		return 0, &Error{Op: "add chunks", Dir: idx.dir, Fingerprint: keys[0], Kind: ErrExternalService, Err: err}
	}

	for _, k := range keys {
		idx.rows[k] = true
	}
	idx.dirty = true

	if err := idx.flush(ctx); err != nil {
		return len(fresh), err
	}

	idx.log.Info("chunks ingested", "added", len(fresh), "skipped", skipped, "rows", len(idx.rows))
	return len(fresh), nil
}

// dropUnstored forgets ledger rows the loaded index holds no chunk for, which happens when
// the ledger was written but persisting the vectors failed before a restart.
func (idx *Index) dropUnstored() {
	lister, ok := idx.vectors.(ChunkLister)
	if !ok {
		return
	}

	stored := make(map[string]bool)
	for _, c := range lister.Chunks() {
		stored[Fingerprint(c)] = true
	}

	dropped := 0
	for key := range idx.rows {
		if !stored[key] {
			delete(idx.rows, key)
			dropped++
		}
	}

	if dropped > 0 {
		idx.log.Warn("dropping ledger rows missing from the vector index", "rows", dropped)
		idx.dirty = true
	}
}

// flush writes the ledger first and the vector index second.
func (idx *Index) flush(ctx context.Context) error {
	if !idx.dirty {
		return nil
	}

	if err := writeLedger(idx.ledgerPath(), idx.rows); err != nil {
		return &Error{Op: "persist ledger", Dir: idx.dir, Kind: ErrStorage, Err: err}
	}

	if idx.vectors != nil {
		if err := idx.vectors.Persist(ctx, idx.dir); err != nil {
			return &Error{Op: "persist index", Dir: idx.dir, Kind: ErrStorage, Err: err}
		}
	}

	idx.dirty = false
	return nil
}

func (idx *Index) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.vectors == nil {
		return nil, &Error{Op: "search", Dir: idx.dir, Kind: ErrNotInitialized}
	}
	if k <= 0 {
		k = DefaultResults
	}

	res, err := idx.vectors.Search(ctx, query, k)
	if err != nil {
		return nil, &Error{Op: "search", Dir: idx.dir, Kind: ErrExternalService, Err: err}
	}

	return res, nil
}

// Exists reports whether the vector index has been created.
func (idx *Index) Exists() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.vectors != nil
}

// Len returns the number of fingerprints in the ledger.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return len(idx.rows)
}

func (idx *Index) Contains(c Chunk) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.rows[Fingerprint(c)]
}

func (idx *Index) LedgerState() LedgerState {
	return idx.ledgerState
}

func (idx *Index) Dir() string {
	return idx.dir
}

func (idx *Index) ledgerPath() string {
	return filepath.Join(idx.dir, LedgerFile)
}
