package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gamma-omg/doc-portal/ingest"
	"github.com/gamma-omg/doc-portal/readers"
)

type Ingester interface {
	Ingest(ctx context.Context, chunks []ingest.Chunk) (int, error)
}

type Chunkifier interface {
	Chunkify(text string) []string
}

// DocRegistry turns documents into chunks and hands them to the index. Sync and
// Watch feed it from an inbox directory.
type DocRegistry struct {
	log              *slog.Logger
	root             string
	sessionID        string
	mergeEventsDelay time.Duration
	index            Ingester
	chunkifier       Chunkifier
	readers          []readers.FileReader
}

type IngestReport struct {
	File   string `json:"file"`
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
	Added  int    `json:"added"`
}

// IngestFile reads path and ingests its chunks under source. The index skips
// chunks it already holds, so a document can be ingested any number of times.
func (dr *DocRegistry) IngestFile(ctx context.Context, path, source string) (IngestReport, error) {
	report := IngestReport{File: path, Source: source}

	reader, err := readers.Find(dr.readers, path)
	if err != nil {
		return report, err
	}

	text, err := reader.ReadText(path)
	if err != nil {
		return report, fmt.Errorf("failed to read document %s: %w", path, err)
	}

	parts := dr.chunkifier.Chunkify(text)
	report.Chunks = len(parts)
	if len(parts) == 0 {
		dr.log.Warn("document has no text", "file", path)
		return report, nil
	}

	added, err := dr.index.Ingest(ctx, documentChunks(parts, source, path, dr.sessionID))
	report.Added = added
	if err != nil {
		return report, fmt.Errorf("failed to ingest document %s: %w", path, err)
	}

	dr.log.Info("document ingested", "file", path, "source", source, "chunks", len(parts), "added", added)
	return report, nil
}

var ErrOutsideInbox = errors.New("path is outside the inbox")

// IngestInboxFile ingests path only if it resolves to a file inside the inbox. It is
// the entry point for paths supplied by remote clients.
func (dr *DocRegistry) IngestInboxFile(ctx context.Context, path string) (IngestReport, error) {
	report := IngestReport{File: path, Source: path}
	if dr.root == "" {
		return report, fmt.Errorf("%w: no inbox configured", ErrOutsideInbox)
	}

	root, err := resolvePath(dr.root)
	if err != nil {
		return report, fmt.Errorf("failed to resolve inbox: %w", err)
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	resolved, err := resolvePath(path)
	if err != nil {
		return report, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return report, fmt.Errorf("%w: %s", ErrOutsideInbox, path)
	}

	return dr.IngestFile(ctx, resolved, rel)
}

// inboxSource names an inbox file by its path relative to the inbox, so Sync, Watch
// and IngestInboxFile agree on the source of the same file.
func (dr *DocRegistry) inboxSource(path string) string {
	if rel, err := filepath.Rel(dr.root, path); err == nil {
		return rel
	}

	return path
}

// resolvePath returns the absolute path with symlinks followed, so a link inside the
// inbox cannot point outside of it.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return filepath.EvalSymlinks(abs)
}

// Sync ingests every readable file under the inbox. A failing document is logged
// and does not stop the others.
func (dr *DocRegistry) Sync(ctx context.Context) ([]IngestReport, error) {
	var reports []IngestReport
	var errs []error

	err := filepath.WalkDir(dr.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, e := readers.Find(dr.readers, path); e != nil {
			dr.log.Warn(fmt.Sprintf("unsupported file: %s", path))
			return nil
		}

		r, e := dr.IngestFile(ctx, path, dr.inboxSource(path))
		if e != nil {
			dr.log.Error("sync failed for document", "file", path, "error", e)
			errs = append(errs, e)
			return nil
		}

		reports = append(reports, r)
		return nil
	})
	if err != nil {
		return reports, fmt.Errorf("failed to walk %s: %w", dr.root, err)
	}

	return reports, errors.Join(errs...)
}

// Watch ingests files created or written in the inbox once they have been quiet
// for mergeEventsDelay. It returns after the watcher is set up; watching stops
// when ctx is done.
func (dr *DocRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(dr.root); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dr.root, err)
	}

	ready := make(chan string)
	go func() {
		defer watcher.Close()
		dr.mergeEvents(ctx, watcher.Events, watcher.Errors, ready)
	}()
	go dr.processReady(ctx, ready)

	return nil
}

type pendingWrite struct {
	timer *time.Timer
	gen   int
}

type quietPath struct {
	path string
	gen  int
}

// mergeEvents owns the per-path timers. A timer that fires reports back on quiet and
// its entry is removed, unless a newer event has replaced it in the meantime. Paths
// that went quiet are queued until processReady takes them. It returns the number of
// timers still pending when it stops.
func (dr *DocRegistry) mergeEvents(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, ready chan<- string) int {
	timers := make(map[string]pendingWrite)
	defer func() {
		for _, p := range timers {
			p.timer.Stop()
		}
	}()

	quiet := make(chan quietPath)
	var queue []string
	gen := 0

	for {
		var out chan<- string
		var next string
		if len(queue) > 0 {
			out, next = ready, queue[0]
		}

		select {
		case <-ctx.Done():
			return len(timers)

		case out <- next:
			queue = queue[1:]

		case q := <-quiet:
			if p, ok := timers[q.path]; !ok || p.gen != q.gen {
				continue
			}
			delete(timers, q.path)
			if !slices.Contains(queue, q.path) {
				queue = append(queue, q.path)
			}

		case err, ok := <-errs:
			if !ok {
				return len(timers)
			}
			dr.log.Error("watcher error", "error", err)

		case e, ok := <-events:
			if !ok {
				return len(timers)
			}
			if !e.Has(fsnotify.Create) && !e.Has(fsnotify.Write) {
				dr.log.Debug("ignoring event", "event", e.String())
				continue
			}
			if _, err := readers.Find(dr.readers, e.Name); err != nil {
				continue
			}

			if p, ok := timers[e.Name]; ok {
				p.timer.Stop()
			}

			gen++
			q := quietPath{path: e.Name, gen: gen}
			timers[q.path] = pendingWrite{
				gen: gen,
				timer: time.AfterFunc(dr.mergeEventsDelay, func() {
					select {
					case quiet <- q:
					case <-ctx.Done():
					}
				}),
			}
		}
	}
}

func (dr *DocRegistry) processReady(ctx context.Context, ready <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-ready:
			if _, err := dr.IngestFile(ctx, path, dr.inboxSource(path)); err != nil {
				dr.log.Error("failed to ingest watched document", "file", path, "error", err)
			}
		}
	}
}
