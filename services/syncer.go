package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"listing-sync/config"
	"listing-sync/models"
	"listing-sync/storage"
	"listing-sync/utils"
)

// SyncFailure is a document the store did not accept.
type SyncFailure struct {
	ID     string
	Kind   storage.Kind
	Reason string
	Err    error
}

// SyncReport is the outcome of one Sync call.
type SyncReport struct {
	RunID string
	Store string
	// Confirmed maps identity to the revision the store assigned.
	Confirmed map[string]string
	Failures  []SyncFailure
	Skipped   []string
}

// Failed reports whether id ended the run as a failure.
func (r *SyncReport) Failed(id string) bool {
	for _, f := range r.Failures {
		if f.ID == id {
			return true
		}
	}
	return false
}

// SyncEngine pushes listings into a revisioned document store.
//
// Per document a run goes LOCAL -> REVISION_FETCHED -> SUBMITTED and ends
// CONFIRMED or failed. Failed documents get an individual retry whose shape
// depends on the failure kind, see RetryPolicies.
type SyncEngine struct {
	store    storage.DocumentStore
	recorder storage.SyncRecorder
	logger   *utils.Logger

	pageSize int
	pacer    *utils.Pacer

	// RetryPolicies says how often the single-document path is tried for
	// each failure kind. Kinds without a policy are not retried.
	RetryPolicies map[storage.Kind]utils.RetryConfig

	now func() time.Time
}

// NewSyncEngine builds an engine for store. recorder may be nil.
func NewSyncEngine(cfg *config.Config, store storage.DocumentStore, recorder storage.SyncRecorder, logger *utils.Logger) *SyncEngine {
	pageSize := cfg.SyncPageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return &SyncEngine{
		store:         store,
		recorder:      recorder,
		logger:        logger,
		pageSize:      pageSize,
		pacer:         utils.NewPacer(cfg.SyncPageDelay()),
		RetryPolicies: DefaultRetryPolicies(cfg, logger),
		now:           time.Now,
	}
}

// DefaultRetryPolicies retries conflicts and rejections once after a fresh
// revision read, and transient failures with exponential backoff. Fatal
// failures have no policy.
func DefaultRetryPolicies(cfg *config.Config, logger *utils.Logger) map[storage.Kind]utils.RetryConfig {
	once := utils.RetryConfig{
		MaxAttempts: cfg.ConflictRetries,
		Logger:      logger,
		Retryable:   func(error) bool { return false },
	}
	return map[storage.Kind]utils.RetryConfig{
		storage.KindConflict: once,
		storage.KindRejected: once,
		storage.KindNotFound: once,
		storage.KindTransient: {
			MaxAttempts: cfg.TransientRetries,
			BaseDelay:   cfg.RetryBaseDelay(),
			MaxDelay:    30 * time.Second,
			Logger:      logger,
			Retryable:   isTransient,
		},
	}
}

func isTransient(err error) bool {
	return storage.KindOf(err) == storage.KindTransient
}

// Sync writes docs to the store. Revisions on docs are replaced with the
// store's current ones, and confirmed docs carry their new revision
// afterwards.
//
// Per-document failures are reported, not returned. The error is non-nil
// only when the store became unusable (fatal, or transient after every
// retry); the report then lists every unconfirmed document as failed.
func (e *SyncEngine) Sync(ctx context.Context, docs []*models.Listing) (report *SyncReport, err error) {
	report = &SyncReport{
		RunID:     uuid.NewString(),
		Store:     e.store.Name(),
		Confirmed: make(map[string]string, len(docs)),
	}
	started := e.now()

	var pending []*models.Listing
	index := make(map[string]int, len(docs))
	for _, d := range docs {
		if d.ID == "" || IsPlaceholder(d.ID) {
			report.Skipped = append(report.Skipped, d.ID)
			continue
		}
		// One document per identity; the later snapshot wins.
		if i, dup := index[d.ID]; dup {
			pending[i] = d
			continue
		}
		index[d.ID] = len(pending)
		pending = append(pending, d)
	}

	defer func() {
		if err != nil {
			e.failRemaining(report, pending, err)
		}
		e.audit(report, pending, started, err)
	}()

	if len(pending) == 0 {
		return report, nil
	}
	e.logger.Info("[sync] %s: %d documents (%d skipped), run %s",
		report.Store, len(pending), len(report.Skipped), report.RunID)

	revs, err := e.fetchRevisions(ctx, pending)
	if err != nil {
		return report, err
	}
	attachRevisions(pending, revs)

	var failed []SyncFailure
	for start := 0; start < len(pending); start += e.pageSize {
		end := min(start+e.pageSize, len(pending))
		page := pending[start:end]

		pageFailures, err := e.submitPage(ctx, page, report)
		if err != nil {
			// Earlier pages' failures keep their own reasons.
			report.Failures = append(report.Failures, failed...)
			return report, err
		}
		failed = append(failed, pageFailures...)
	}

	for i, f := range failed {
		doc := findDoc(pending, f.ID)
		if rerr := e.retryOne(ctx, doc, f); rerr != nil {
			kind := storage.KindOf(rerr)
			report.Failures = append(report.Failures, SyncFailure{ID: f.ID, Kind: kind, Reason: reasonOf(rerr), Err: rerr})
			if kind == storage.KindFatal {
				report.Failures = append(report.Failures, failed[i+1:]...)
				return report, rerr
			}
			continue
		}
		report.Confirmed[doc.ID] = doc.Rev
	}

	e.logger.Info("[sync] %s: %d confirmed, %d failed", report.Store, len(report.Confirmed), len(report.Failures))
	return report, nil
}

// fetchRevisions reads only the id -> revision map, one page at a time.
func (e *SyncEngine) fetchRevisions(ctx context.Context, docs []*models.Listing) (map[string]string, error) {
	revs := make(map[string]string, len(docs))
	transient := e.RetryPolicies[storage.KindTransient]

	for start := 0; start < len(docs); start += e.pageSize {
		end := min(start+e.pageSize, len(docs))
		ids := make([]string, 0, end-start)
		for _, d := range docs[start:end] {
			ids = append(ids, d.ID)
		}

		if err := e.pacer.Wait(ctx); err != nil {
			return nil, err
		}
		var page map[string]string
		err := transient.Do(ctx, "fetch revisions", func(ctx context.Context, _ int) error {
			var err error
			page, err = e.store.Revisions(ctx, ids)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch revisions: %w", err)
		}
		for id, rev := range page {
			revs[id] = rev
		}
	}
	return revs, nil
}

// attachRevisions makes documents known to the store updates and everything
// else a create.
func attachRevisions(docs []*models.Listing, revs map[string]string) {
	for _, d := range docs {
		d.Rev = revs[d.ID]
	}
}

// submitPage bulk-writes one page and verifies every result. A page-level
// rejection fails each document of the page individually.
func (e *SyncEngine) submitPage(ctx context.Context, page []*models.Listing, report *SyncReport) ([]SyncFailure, error) {
	if err := e.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	var results []storage.DocResult
	transient := e.RetryPolicies[storage.KindTransient]
	err := transient.Do(ctx, "bulk upsert", func(ctx context.Context, _ int) error {
		var err error
		results, err = e.store.BulkUpsert(ctx, page)
		return err
	})
	if err != nil {
		kind := storage.KindOf(err)
		if kind == storage.KindFatal || kind == storage.KindTransient {
			return nil, fmt.Errorf("bulk upsert: %w", err)
		}
		failures := make([]SyncFailure, 0, len(page))
		for _, d := range page {
			failures = append(failures, SyncFailure{ID: d.ID, Kind: kind, Reason: reasonOf(err), Err: err})
		}
		return failures, nil
	}

	byID := make(map[string]storage.DocResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	var failures []SyncFailure
	for _, d := range page {
		r, ok := byID[d.ID]
		switch {
		case !ok:
			failures = append(failures, SyncFailure{
				ID: d.ID, Kind: storage.KindTransient, Reason: "no result returned for document",
				Err: &storage.StoreError{Kind: storage.KindTransient, Op: "bulk " + d.ID, Reason: "no result returned for document"},
			})
		case !r.OK:
			reason := r.Reason
			if reason == "" {
				reason = "no success indicator in response"
			}
			failures = append(failures, SyncFailure{ID: d.ID, Kind: r.Kind(), Reason: reason, Err: r.Err()})
		default:
			d.Rev = r.Rev
			report.Confirmed[d.ID] = r.Rev
		}
	}
	if len(failures) > 0 {
		e.logger.Warn("[sync] %s: %d of %d documents failed in page", report.Store, len(failures), len(page))
	}
	return failures, nil
}

// retryOne pushes a single document again according to the policy for its
// failure kind.
func (e *SyncEngine) retryOne(ctx context.Context, doc *models.Listing, f SyncFailure) error {
	policy, ok := e.RetryPolicies[f.Kind]
	if !ok || policy.MaxAttempts <= 0 {
		return f.Err
	}
	e.logger.Debug("[sync] retrying %s individually after %s", doc.ID, f.Kind)
	return policy.Do(ctx, "upsert "+doc.ID, func(ctx context.Context, _ int) error {
		return e.upsertOne(ctx, doc)
	})
}

// upsertOne re-reads the revision of doc and writes it alone.
func (e *SyncEngine) upsertOne(ctx context.Context, doc *models.Listing) error {
	revs, err := e.store.Revisions(ctx, []string{doc.ID})
	if err != nil {
		return err
	}
	doc.Rev = revs[doc.ID]
	rev, err := e.store.Put(ctx, doc)
	if err != nil {
		return err
	}
	doc.Rev = rev
	return nil
}

// failRemaining marks every document that was neither confirmed nor already
// failed as failed with the abort error.
func (e *SyncEngine) failRemaining(report *SyncReport, docs []*models.Listing, cause error) {
	for _, d := range docs {
		if _, ok := report.Confirmed[d.ID]; ok || report.Failed(d.ID) {
			continue
		}
		report.Failures = append(report.Failures, SyncFailure{
			ID: d.ID, Kind: storage.KindOf(cause), Reason: reasonOf(cause), Err: cause,
		})
	}
	e.logger.Error("[sync] %s: run %s aborted: %v", report.Store, report.RunID, cause)
}

func (e *SyncEngine) audit(report *SyncReport, docs []*models.Listing, at time.Time, aborted error) {
	if e.recorder == nil {
		return
	}
	rows := make([]storage.LedgerRow, 0, len(docs)+len(report.Skipped))
	var failures []storage.LedgerRow
	for _, d := range docs {
		row := storage.LedgerRow{Time: at, Store: report.Store, Identity: d.ID}
		if rev, ok := report.Confirmed[d.ID]; ok {
			row.Success = true
			row.Revision = rev
		} else if f, ok := findFailure(report, d.ID); ok {
			row.Revision = d.Rev
			row.Error = string(f.Kind)
			row.Reason = f.Reason
			failures = append(failures, row)
		}
		rows = append(rows, row)
	}
	for _, id := range report.Skipped {
		rows = append(rows, storage.LedgerRow{Time: at, Store: report.Store, Identity: id, Error: "skipped", Reason: "no resolved identity"})
	}

	summary := storage.RunSummary{
		RunID:     report.RunID,
		Time:      at,
		Store:     report.Store,
		Confirmed: len(report.Confirmed),
		Skipped:   len(report.Skipped),
		Failures:  failures,
		Aborted:   aborted,
	}
	if err := e.recorder.Record(summary, rows); err != nil {
		e.logger.Error("[sync] writing audit trail: %v", err)
	}
}

func findDoc(docs []*models.Listing, id string) *models.Listing {
	for _, d := range docs {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func findFailure(r *SyncReport, id string) (SyncFailure, bool) {
	for _, f := range r.Failures {
		if f.ID == id {
			return f, true
		}
	}
	return SyncFailure{}, false
}

// reasonOf is the store's own explanation when there is one.
func reasonOf(err error) string {
	var se *storage.StoreError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return err.Error()
}
