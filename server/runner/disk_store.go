package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nomis52/gosdm/lifecycle"
)

const fileSuffix = ".json"

// DiskStore persists lifecycles to disk, one JSON file per lifecycle.
// Files are named after the lifecycle id and rewritten on every save.
type DiskStore struct {
	dir        string
	logger     *slog.Logger
	lifecycles map[string]*lifecycle.Lifecycle // protected by mu
	mu         sync.Mutex
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates a new disk-backed store.
// The directory is created if it doesn't exist, and existing lifecycles are loaded.
func NewDiskStore(dir string, logger *slog.Logger) (*DiskStore, error) {
	s := &DiskStore{
		dir:        dir,
		logger:     logger.With("component", "disk_store"),
		lifecycles: make(map[string]*lifecycle.Lifecycle),
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	lcs, err := s.load()
	if err != nil {
		s.logger.Warn("failed to load existing lifecycles", "error", err)
	} else {
		s.lifecycles = lcs
	}

	return s, nil
}

// Save writes lc to its file and updates the in-memory copy. The file is
// replaced atomically so a crash never leaves a truncated snapshot.
func (s *DiskStore) Save(_ context.Context, lc *lifecycle.Lifecycle) error {
	if lc.ID == "" || strings.ContainsAny(lc.ID, `/\`) {
		return fmt.Errorf("invalid lifecycle id %q", lc.ID)
	}

	data, err := json.MarshalIndent(lc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(lc.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write lifecycle file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace lifecycle file: %w", err)
	}

	s.lifecycles[lc.ID] = lc.Clone()
	s.logger.Debug("saved lifecycle to disk", "path", path, "revision", lc.Revision)
	return nil
}

// Load returns a copy of the lifecycle.
func (s *DiskStore) Load(_ context.Context, id string) (*lifecycle.Lifecycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lc, ok := s.lifecycles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return lc.Clone(), nil
}

// List returns copies of every lifecycle, newest first.
func (s *DiskStore) List(_ context.Context) ([]*lifecycle.Lifecycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*lifecycle.Lifecycle, 0, len(s.lifecycles))
	for _, lc := range s.lifecycles {
		result = append(result, lc.Clone())
	}
	sortNewestFirst(result)
	return result, nil
}

// Prune deletes the files of finished lifecycles last updated before the cutoff.
func (s *DiskStore) Prune(_ context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []string
	for id, lc := range s.lifecycles {
		if !prunable(lc, before) {
			continue
		}
		if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
			return pruned, fmt.Errorf("failed to remove lifecycle file: %w", err)
		}
		delete(s.lifecycles, id)
		pruned = append(pruned, id)
	}
	if len(pruned) > 0 {
		s.logger.Info("pruned lifecycles", "count", len(pruned))
	}
	return pruned, nil
}

// Reload re-loads all lifecycles from disk.
func (s *DiskStore) Reload() error {
	lcs, err := s.load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycles = lcs

	return nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.dir, id+fileSuffix)
}

// load reads every lifecycle file in the directory. Unreadable files are
// logged and skipped.
func (s *DiskStore) load() (map[string]*lifecycle.Lifecycle, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	lcs := make(map[string]*lifecycle.Lifecycle, len(files))
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != fileSuffix {
			continue
		}

		path := filepath.Join(s.dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read lifecycle file", "file", path, "error", err)
			continue
		}

		var lc lifecycle.Lifecycle
		if err := json.Unmarshal(data, &lc); err != nil {
			s.logger.Warn("failed to parse lifecycle file", "file", path, "error", err)
			continue
		}
		if lc.ID == "" {
			lc.ID = strings.TrimSuffix(file.Name(), fileSuffix)
		}
		lcs[lc.ID] = &lc
	}

	s.logger.Info("loaded lifecycles from disk", "count", len(lcs))
	return lcs, nil
}
