package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// ledgerHeader is the column layout of the sync ledger.
var ledgerHeader = []string{"timestamp", "store_name", "success", "identity", "revision", "error", "reason"}

// LedgerRow is the outcome of syncing one document.
type LedgerRow struct {
	Time     time.Time
	Store    string
	Success  bool
	Identity string
	Revision string
	Error    string
	Reason   string
}

func (r LedgerRow) record() []string {
	return []string{
		r.Time.Format(time.RFC3339),
		r.Store,
		strconv.FormatBool(r.Success),
		r.Identity,
		r.Revision,
		r.Error,
		r.Reason,
	}
}

// CSVLedger appends sync outcomes to a CSV file. It is safe for concurrent
// use.
type CSVLedger struct {
	mu   sync.Mutex
	path string
}

// NewCSVLedger prepares the ledger at path, creating it with a header row if
// it does not exist. Intermediate directories are created automatically.
func NewCSVLedger(path string) (*CSVLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}

	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return &CSVLedger{path: path}, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ledger: stat %q: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("ledger: create %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(ledgerHeader); err != nil {
		return nil, fmt.Errorf("ledger: write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("ledger: write header: %w", err)
	}
	return &CSVLedger{path: path}, nil
}

// Append writes rows at the end of the ledger.
func (c *CSVLedger) Append(rows []LedgerRow) error {
	if len(rows) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return fmt.Errorf("ledger: write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ReadLedger loads every row of a ledger file.
func ReadLedger(path string) ([]LedgerRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(ledgerHeader)

	var rows []LedgerRow
	first := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ledger: read: %w", err)
		}
		if first {
			first = false
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("ledger: timestamp %q: %w", rec[0], err)
		}
		ok, _ := strconv.ParseBool(rec[2])
		rows = append(rows, LedgerRow{
			Time: ts, Store: rec[1], Success: ok,
			Identity: rec[3], Revision: rec[4], Error: rec[5], Reason: rec[6],
		})
	}
	return rows, nil
}
