package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RunSummary describes one sync run for the status log.
type RunSummary struct {
	RunID     string
	Time      time.Time
	Store     string
	Confirmed int
	Skipped   int
	Failures  []LedgerRow
	Aborted   error
}

// AuditTrail writes the human-readable status log and the per-document
// ledger for every sync run.
type AuditTrail struct {
	mu         sync.Mutex
	statusPath string
	ledger     *CSVLedger
}

// NewAuditTrail opens (or creates) both audit files.
func NewAuditTrail(statusPath, ledgerPath string) (*AuditTrail, error) {
	if err := os.MkdirAll(filepath.Dir(statusPath), 0755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	ledger, err := NewCSVLedger(ledgerPath)
	if err != nil {
		return nil, err
	}
	return &AuditTrail{statusPath: statusPath, ledger: ledger}, nil
}

// Record appends the run summary to the status log and rows to the ledger.
// Both writes are attempted even if the first fails.
func (a *AuditTrail) Record(summary RunSummary, rows []LedgerRow) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	errStatus := a.appendStatus(summary)
	errLedger := a.ledger.Append(rows)
	if errStatus != nil {
		return errStatus
	}
	return errLedger
}

func (a *AuditTrail) appendStatus(s RunSummary) error {
	f, err := os.OpenFile(a.statusPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("audit: open status log: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] run %s store=%s confirmed=%d skipped=%d failures=%d\n",
		s.Time.Format(time.RFC3339), s.RunID, s.Store, s.Confirmed, s.Skipped, len(s.Failures))
	if s.Aborted != nil {
		fmt.Fprintf(&b, "    ABORTED: %v\n", s.Aborted)
	}
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "    FAILED %s: %s %s\n", f.Identity, f.Error, f.Reason)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("audit: write status log: %w", err)
	}
	return nil
}
