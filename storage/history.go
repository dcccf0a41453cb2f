package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"listing-sync/models"
)

// HistoryStore keeps one JSON array file per identity, newest snapshot
// first.
type HistoryStore struct {
	dir string
}

// NewHistoryStore uses dir for history files, creating it if needed.
func NewHistoryStore(dir string) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	return &HistoryStore{dir: dir}, nil
}

// Path is where filename lives.
func (h *HistoryStore) Path(filename string) string {
	return filepath.Join(h.dir, filename)
}

// Read returns the snapshots in filename. A missing file is an empty history.
func (h *HistoryStore) Read(filename string) ([]*models.Listing, error) {
	raw, err := os.ReadFile(h.Path(filename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", filename, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []*models.Listing
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", filename, err)
	}
	return entries, nil
}

// Write replaces filename with entries. The file is written to a temp file in
// the same directory and renamed, so readers never see a partial history.
func (h *HistoryStore) Write(filename string, entries []*models.Listing) error {
	raw, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("history: encode %s: %w", filename, err)
	}

	tmp, err := os.CreateTemp(h.dir, filename+".*.tmp")
	if err != nil {
		return fmt.Errorf("history: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("history: write %s: %w", filename, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("history: sync %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("history: close %s: %w", filename, err)
	}
	if err := os.Rename(tmp.Name(), h.Path(filename)); err != nil {
		return fmt.Errorf("history: replace %s: %w", filename, err)
	}
	return nil
}

// Trim keeps the newest keep entries of filename and reports how many were
// removed. The newest entry is always kept. Used for operator cleanup only.
func (h *HistoryStore) Trim(filename string, keep int) (int, error) {
	keep = max(keep, 1)
	entries, err := h.Read(filename)
	if err != nil {
		return 0, err
	}
	if len(entries) <= keep {
		return 0, nil
	}
	removed := len(entries) - keep
	return removed, h.Write(filename, entries[:keep])
}
