// Package sessions keeps uploaded documents and their indexes in per-session directories.
//
// A session id is a UTC timestamp followed by a short random suffix
// (20250101_120000_1a2b3c4d), so ids sort chronologically by name.
package sessions

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idLayout = "20060102_150405"

var SupportedExtensions = []string{".pdf", ".docx", ".txt"}

var (
	ErrNoSupportedFiles = errors.New("no supported files in upload")
	ErrUnknownSession   = errors.New("unknown session")
)

type Manager struct {
	log      *slog.Logger
	dataDir  string
	indexDir string
	now      func() time.Time
}

func NewManager(log *slog.Logger, dataDir, indexDir string) *Manager {
	return &Manager{
		log:      log,
		dataDir:  dataDir,
		indexDir: indexDir,
		now:      time.Now,
	}
}

// NewID returns a fresh session id for the given instant.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format(idLayout) + "_" + suffix
}

func idTime(id string) (time.Time, bool) {
	if len(id) <= len(idLayout) || id[len(idLayout)] != '_' {
		return time.Time{}, false
	}

	t, err := time.Parse(idLayout, id[:len(idLayout)])
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

type Session struct {
	ID       string
	DataDir  string
	IndexDir string

	log *slog.Logger
}

func (m *Manager) session(id string) (*Session, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return nil, fmt.Errorf("invalid session id %q", id)
	}

	return &Session{
		ID:       id,
		DataDir:  filepath.Join(m.dataDir, id),
		IndexDir: filepath.Join(m.indexDir, id),
		log:      m.log.With("session_id", id),
	}, nil
}

// Open returns the session with the given id, creating its directories as needed.
// An empty id starts a new session.
func (m *Manager) Open(id string) (*Session, error) {
	if id == "" {
		id = NewID(m.now())
	}

	s, err := m.session(id)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{s.DataDir, s.IndexDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	s.log.Info("session ready", "data_dir", s.DataDir, "index_dir", s.IndexDir)
	return s, nil
}

// Lookup returns an existing session without creating anything on disk.
func (m *Manager) Lookup(id string) (*Session, error) {
	s, err := m.session(id)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(s.IndexDir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session %s: %w", id, err)
	}

	return s, nil
}

type SavedFile struct {
	Name string
	Path string
}

// Save stores every supported upload under a unique name in the session's data
// directory. Unsupported uploads are skipped.
func (s *Session) Save(uploads []Upload) ([]SavedFile, error) {
	var saved []SavedFile
	for _, u := range uploads {
		ext := strings.ToLower(filepath.Ext(u.Name))
		if !slices.Contains(SupportedExtensions, ext) {
			s.log.Warn("unsupported file skipped", "file", u.Name, "ext", ext)
			continue
		}

		data, err := u.Source.ReadAll()
		if err != nil {
			return saved, fmt.Errorf("failed to read upload %s: %w", u.Name, err)
		}

		path := filepath.Join(s.DataDir, strings.ReplaceAll(uuid.NewString(), "-", "")[:8]+ext)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return saved, fmt.Errorf("failed to save upload %s: %w", u.Name, err)
		}

		s.log.Info("file saved", "file", u.Name, "saved_as", path)
		saved = append(saved, SavedFile{Name: u.Name, Path: path})
	}

	if len(saved) == 0 {
		return nil, ErrNoSupportedFiles
	}

	return saved, nil
}

// List returns the ids of the sessions under the data directory, newest first.
func (m *Manager) List() ([]string, error) {
	return sessionIDs(m.dataDir)
}

// Clean keeps the newest keep sessions in both the data and the index directory
// and removes the others. Directories that are not named like sessions are left alone.
func (m *Manager) Clean(keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative, got %d", keep)
	}

	var removed []string
	for _, root := range []string{m.dataDir, m.indexDir} {
		ids, err := sessionIDs(root)
		if err != nil {
			return removed, err
		}
		if len(ids) <= keep {
			continue
		}

		for _, id := range ids[keep:] {
			path := filepath.Join(root, id)
			if err := os.RemoveAll(path); err != nil {
				return removed, fmt.Errorf("failed to remove session %s: %w", path, err)
			}

			m.log.Info("old session removed", "path", path)
			removed = append(removed, path)
		}
	}

	return removed, nil
}

func sessionIDs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions in %s: %w", root, err)
	}

	type session struct {
		id string
		at time.Time
	}

	var found []session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if at, ok := idTime(e.Name()); ok {
			found = append(found, session{id: e.Name(), at: at})
		}
	}

	slices.SortFunc(found, func(a, b session) int {
		if c := b.at.Compare(a.at); c != 0 {
			return c
		}

		return strings.Compare(b.id, a.id)
	})

	ids := make([]string, 0, len(found))
	for _, s := range found {
		ids = append(ids, s.id)
	}

	return ids, nil
}
