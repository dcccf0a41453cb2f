package services

import (
	"errors"
	"fmt"
	"time"

	"listing-sync/models"
	"listing-sync/storage"
	"listing-sync/utils"
)

// Fallback keeps a local, newest-first history of every listing that could
// not reach the store.
type Fallback struct {
	history  *storage.HistoryStore
	detector *ChangeDetector
	logger   *utils.Logger
	now      func() time.Time
}

func NewFallback(history *storage.HistoryStore, logger *utils.Logger) *Fallback {
	return &Fallback{
		history:  history,
		detector: NewChangeDetector(),
		logger:   logger,
		now:      time.Now,
	}
}

// HistoryFilename picks the history file for l: the address-derived name
// when the address resolves, otherwise the listing id.
func HistoryFilename(l *models.Listing, now time.Time) string {
	if name, err := IdentityFilename(l.FullAddress); err == nil {
		return name
	}
	if l.ID != "" {
		return l.ID + ".json"
	}
	return PlaceholderIdentity(now) + ".json"
}

// AppendSnapshot prepends a copy of l to its history file when it is new or
// differs from the newest entry, and returns the resulting history. written
// is false when the file was left untouched.
func (f *Fallback) AppendSnapshot(l *models.Listing) (entries []*models.Listing, written bool, err error) {
	now := f.now()
	filename := HistoryFilename(l, now)

	entries, err = f.history.Read(filename)
	if err != nil {
		return nil, false, err
	}

	var newest *models.Listing
	if len(entries) > 0 {
		newest = entries[0]
	}
	c := f.detector.Classify(l, newest)
	if !c.NeedsWrite() {
		f.logger.Debug("[fallback] %s unchanged, not written", filename)
		return entries, false, nil
	}

	snap, err := l.Clone()
	if err != nil {
		return nil, false, fmt.Errorf("fallback: copy %s: %w", filename, err)
	}
	snap.ModifiedTime = now.Format(models.TimeFormat)
	snap.Changes = c.Changes

	entries = append([]*models.Listing{snap}, entries...)
	if err := f.history.Write(filename, entries); err != nil {
		return nil, false, err
	}
	f.logger.Info("[fallback] %s: %s snapshot saved to %s", l.ID, c.Outcome, filename)
	return entries, true, nil
}

// PersistAll runs AppendSnapshot for every listing and returns how many
// files were written. Errors are collected, never stopping the batch.
func (f *Fallback) PersistAll(listings []*models.Listing) (int, error) {
	var (
		written int
		errs    []error
	)
	for _, l := range listings {
		_, ok, err := f.AppendSnapshot(l)
		if err != nil {
			f.logger.Error("[fallback] %s: %v", l.ID, err)
			errs = append(errs, err)
			continue
		}
		if ok {
			written++
		}
	}
	return written, errors.Join(errs...)
}
