package services

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-sync/config"
	"listing-sync/models"
	"listing-sync/storage"
)

// memStore is an in-memory revisioned store. Queued errors are returned
// before the normal behaviour kicks in.
type memStore struct {
	name string
	revs map[string]int
	docs map[string]*models.Listing

	conflictOnBulk map[string]bool
	putErrs        map[string][]error
	bulkErrs       []error
	bulkErrsAfter  int
	revErrs        []error

	revCalls, bulkCalls, putCalls int
	bulkPageSizes                 []int
	staleOnCreate                 []string
}

func newMemStore() *memStore {
	return &memStore{
		name:           "deathpledge_clean",
		revs:           make(map[string]int),
		docs:           make(map[string]*models.Listing),
		conflictOnBulk: make(map[string]bool),
		putErrs:        make(map[string][]error),
	}
}

func (m *memStore) Name() string { return m.name }

func (m *memStore) rev(id string) string {
	if n, ok := m.revs[id]; ok {
		return fmt.Sprintf("%d-x", n)
	}
	return ""
}

func (m *memStore) write(d *models.Listing) (string, bool) {
	if d.Rev != m.rev(d.ID) {
		return "", false
	}
	m.revs[d.ID]++
	if c, err := d.Clone(); err == nil {
		c.Rev = m.rev(d.ID)
		m.docs[d.ID] = c
	}
	return m.rev(d.ID), true
}

func (m *memStore) FetchDocs(_ context.Context, ids []string) ([]*models.Listing, error) {
	var out []*models.Listing
	for _, id := range ids {
		if d, ok := m.docs[id]; ok {
			c, err := d.Clone()
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) AllDocs(ctx context.Context) ([]*models.Listing, error) {
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return m.FetchDocs(ctx, ids)
}

func (m *memStore) Revisions(_ context.Context, ids []string) (map[string]string, error) {
	m.revCalls++
	if len(m.revErrs) > 0 {
		err := m.revErrs[0]
		m.revErrs = m.revErrs[1:]
		return nil, err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if r := m.rev(id); r != "" {
			out[id] = r
		}
	}
	return out, nil
}

func (m *memStore) BulkUpsert(_ context.Context, docs []*models.Listing) ([]storage.DocResult, error) {
	m.bulkCalls++
	if len(m.bulkErrs) > 0 && m.bulkCalls > m.bulkErrsAfter {
		err := m.bulkErrs[0]
		m.bulkErrs = m.bulkErrs[1:]
		return nil, err
	}
	m.bulkPageSizes = append(m.bulkPageSizes, len(docs))
	results := make([]storage.DocResult, 0, len(docs))
	for _, d := range docs {
		if _, exists := m.revs[d.ID]; !exists && d.Rev != "" {
			m.staleOnCreate = append(m.staleOnCreate, d.ID)
		}
		if m.conflictOnBulk[d.ID] {
			results = append(results, storage.DocResult{ID: d.ID, Error: "conflict", Reason: "Document update conflict."})
			continue
		}
		rev, ok := m.write(d)
		if !ok {
			results = append(results, storage.DocResult{ID: d.ID, Error: "conflict", Reason: "Document update conflict."})
			continue
		}
		results = append(results, storage.DocResult{ID: d.ID, OK: true, Rev: rev})
	}
	return results, nil
}

func (m *memStore) Get(_ context.Context, id string) (*models.Listing, error) {
	if _, ok := m.revs[id]; !ok {
		return nil, &storage.StoreError{Kind: storage.KindNotFound, Op: "get " + id, StatusCode: http.StatusNotFound}
	}
	return &models.Listing{ID: id, Rev: m.rev(id)}, nil
}

func (m *memStore) Put(_ context.Context, d *models.Listing) (string, error) {
	m.putCalls++
	if q := m.putErrs[d.ID]; len(q) > 0 {
		m.putErrs[d.ID] = q[1:]
		return "", q[0]
	}
	rev, ok := m.write(d)
	if !ok {
		return "", &storage.StoreError{Kind: storage.KindConflict, Op: "put " + d.ID, StatusCode: http.StatusConflict, Reason: "conflict Document update conflict."}
	}
	return rev, nil
}

type memRecorder struct {
	summaries []storage.RunSummary
	rows      [][]storage.LedgerRow
}

func (r *memRecorder) Record(s storage.RunSummary, rows []storage.LedgerRow) error {
	r.summaries = append(r.summaries, s)
	r.rows = append(r.rows, rows)
	return nil
}

func testSyncConfig() *config.Config {
	return &config.Config{
		SyncPageSize:     20,
		ConflictRetries:  1,
		TransientRetries: 3,
	}
}

func newTestEngine(store *memStore) (*SyncEngine, *memRecorder) {
	rec := &memRecorder{}
	return NewSyncEngine(testSyncConfig(), store, rec, newTestLogger()), rec
}

func docs(n int) []*models.Listing {
	out := make([]*models.Listing, n)
	for i := range out {
		out[i] = &models.Listing{ID: fmt.Sprintf("id-%02d", i), Status: models.StatusActive}
	}
	return out
}

func transientErr() error {
	return &storage.StoreError{Kind: storage.KindTransient, Op: "test", StatusCode: http.StatusServiceUnavailable}
}

func TestSyncPagesAllDocuments(t *testing.T) {
	store := newMemStore()
	e, rec := newTestEngine(store)

	report, err := e.Sync(context.Background(), docs(45))
	require.NoError(t, err)

	assert.Len(t, report.Confirmed, 45)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []int{20, 20, 5}, store.bulkPageSizes)
	assert.Equal(t, 3, store.revCalls, "one revision read per page")
	assert.NotEmpty(t, report.RunID)

	require.Len(t, rec.summaries, 1)
	assert.Equal(t, 45, rec.summaries[0].Confirmed)
	require.Len(t, rec.rows[0], 45)
	for _, row := range rec.rows[0] {
		assert.True(t, row.Success)
		assert.Equal(t, "1-x", row.Revision)
	}
}

func TestSyncAttachesAndStripsRevisions(t *testing.T) {
	store := newMemStore()
	store.revs["id-00"] = 3
	e, _ := newTestEngine(store)

	batch := docs(2)
	batch[0].Rev = "1-stale"
	batch[1].Rev = "9-stale"

	report, err := e.Sync(context.Background(), batch)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Empty(t, store.staleOnCreate, "new documents are submitted without a revision")
	assert.Equal(t, "4-x", batch[0].Rev)
	assert.Equal(t, "1-x", batch[1].Rev)
	assert.Equal(t, 0, store.putCalls)
}

func TestSyncConflictRetrySucceeds(t *testing.T) {
	store := newMemStore()
	store.conflictOnBulk["id-03"] = true
	e, rec := newTestEngine(store)

	report, err := e.Sync(context.Background(), docs(6))
	require.NoError(t, err)

	assert.Empty(t, report.Failures)
	assert.Len(t, report.Confirmed, 6)
	assert.Equal(t, 1, store.putCalls, "exactly one individual retry")
	assert.Equal(t, 2, store.revCalls, "batch read plus the re-read for the retry")
	assert.Empty(t, rec.summaries[0].Failures)
}

func TestSyncConflictRetryFailsReportsOnlyThatDocument(t *testing.T) {
	store := newMemStore()
	store.conflictOnBulk["id-03"] = true
	store.putErrs["id-03"] = []error{&storage.StoreError{
		Kind: storage.KindConflict, Op: "put id-03", StatusCode: http.StatusConflict, Reason: "conflict still stale",
	}}
	e, rec := newTestEngine(store)

	report, err := e.Sync(context.Background(), docs(6))
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "id-03", report.Failures[0].ID)
	assert.Equal(t, storage.KindConflict, report.Failures[0].Kind)
	assert.Equal(t, "conflict still stale", report.Failures[0].Reason, "latest error reason kept")
	assert.Len(t, report.Confirmed, 5)
	assert.Equal(t, 1, store.putCalls, "no second retry")

	require.Len(t, rec.summaries[0].Failures, 1)
	var failedRows int
	for _, row := range rec.rows[0] {
		if !row.Success {
			failedRows++
			assert.Equal(t, "id-03", row.Identity)
			assert.Equal(t, "conflict", row.Error)
		}
	}
	assert.Equal(t, 1, failedRows)
}

func TestSyncTransientPageFailureIsRetried(t *testing.T) {
	store := newMemStore()
	store.bulkErrs = []error{transientErr(), transientErr()}
	e, _ := newTestEngine(store)

	report, err := e.Sync(context.Background(), docs(3))
	require.NoError(t, err)
	assert.Len(t, report.Confirmed, 3)
	assert.Equal(t, 3, store.bulkCalls)
}

func TestSyncTransientExhaustedAbortsRun(t *testing.T) {
	store := newMemStore()
	store.bulkErrs = []error{transientErr(), transientErr(), transientErr()}
	e, rec := newTestEngine(store)

	report, err := e.Sync(context.Background(), docs(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrTransient)
	assert.Equal(t, 3, store.bulkCalls)
	assert.Len(t, report.Failures, 3, "every unconfirmed document is reported")

	require.Len(t, rec.summaries, 1, "audit written on abort")
	assert.Error(t, rec.summaries[0].Aborted)
}

func TestSyncFatalErrorIsNotRetried(t *testing.T) {
	store := newMemStore()
	store.revErrs = []error{&storage.StoreError{Kind: storage.KindFatal, Op: "revisions", StatusCode: http.StatusUnauthorized}}
	e, rec := newTestEngine(store)

	_, err := e.Sync(context.Background(), docs(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrFatal)
	assert.Equal(t, 1, store.revCalls)
	assert.Equal(t, 0, store.bulkCalls)
	require.Len(t, rec.summaries, 1)
	assert.Len(t, rec.summaries[0].Failures, 2)
}

func TestSyncFatalIndividualRetryStopsRun(t *testing.T) {
	store := newMemStore()
	store.conflictOnBulk["id-00"] = true
	store.conflictOnBulk["id-01"] = true
	store.putErrs["id-00"] = []error{&storage.StoreError{Kind: storage.KindFatal, Op: "put id-00", StatusCode: http.StatusUnauthorized}}
	e, _ := newTestEngine(store)

	report, err := e.Sync(context.Background(), docs(3))
	require.Error(t, err)
	assert.Equal(t, 1, store.putCalls, "remaining retries abandoned")
	assert.True(t, report.Failed("id-00"))
	assert.True(t, report.Failed("id-01"))
	assert.Contains(t, report.Confirmed, "id-02")

	f, ok := failureFor(report, "id-01")
	require.True(t, ok)
	assert.Equal(t, storage.KindConflict, f.Kind, "unretried document keeps its own failure")
}

func TestSyncAbortKeepsEarlierPageFailures(t *testing.T) {
	store := newMemStore()
	store.conflictOnBulk["id-03"] = true
	store.bulkErrsAfter = 1
	store.bulkErrs = []error{&storage.StoreError{Kind: storage.KindFatal, Op: "bulk", StatusCode: http.StatusUnauthorized}}
	e, rec := newTestEngine(store)

	report, err := e.Sync(context.Background(), docs(25))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrFatal)
	assert.Len(t, report.Confirmed, 19)
	assert.Len(t, report.Failures, 6)
	assert.Zero(t, store.putCalls)

	f, ok := failureFor(report, "id-03")
	require.True(t, ok)
	assert.Equal(t, storage.KindConflict, f.Kind)
	assert.Equal(t, "Document update conflict.", f.Reason)

	f, ok = failureFor(report, "id-24")
	require.True(t, ok)
	assert.Equal(t, storage.KindFatal, f.Kind)

	for _, row := range rec.rows[0] {
		if row.Identity == "id-03" {
			assert.False(t, row.Success)
			assert.Equal(t, "conflict", row.Error)
		}
	}
}

func failureFor(report *SyncReport, id string) (SyncFailure, bool) {
	for _, f := range report.Failures {
		if f.ID == id {
			return f, true
		}
	}
	return SyncFailure{}, false
}

func TestSyncSkipsUnresolvedIdentities(t *testing.T) {
	store := newMemStore()
	e, rec := newTestEngine(store)

	batch := docs(1)
	batch = append(batch, &models.Listing{ID: "unresolved-20240320T090000"}, &models.Listing{})

	report, err := e.Sync(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, report.Confirmed, 1)
	assert.Len(t, report.Skipped, 2)
	assert.Len(t, rec.rows[0], 3)
}

func TestSyncCollapsesDuplicateIdentities(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(store)

	first := &models.Listing{ID: "same", Status: models.StatusActive}
	second := &models.Listing{ID: "same", Status: models.StatusPending}

	report, err := e.Sync(context.Background(), []*models.Listing{first, second})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, store.bulkPageSizes)
	assert.Equal(t, "1-x", second.Rev)
	assert.Empty(t, report.Failures)
}
