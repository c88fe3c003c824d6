// Package diagnostics keeps the last raw upstream response per area on disk
// so malformed model output can be inspected after the fact.
package diagnostics

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bhuvisx/area-news/backend/internal/processing"
)

// Store writes raw text under dir. A Store with an empty dir is a no-op.
type Store struct {
	dir string
	log *slog.Logger
}

// New returns a Store rooted at dir.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{dir: dir, log: logger}
}

// Path returns the file the raw text for area is written to.
func (s *Store) Path(area string) string {
	return filepath.Join(s.dir, fmt.Sprintf("sonar_raw_%s.txt", processing.SafeAreaName(area)))
}

// Save writes raw for area, overwriting the previous capture. Failures are
// logged and swallowed; the request path never depends on this.
func (s *Store) Save(area, raw string) {
	if s == nil || s.dir == "" {
		return
	}
	if err := s.write(area, raw); err != nil {
		s.log.Warn("save raw upstream response", slog.String("area", area), slog.Any("err", err))
	}
}

func (s *Store) write(area, raw string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create diagnostics dir: %w", err)
	}
	path := s.Path(area)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.WriteString(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	// Each writer renames its own temp file, so the last rename wins whole.
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", tmp.Name(), err)
	}
	return nil
}
