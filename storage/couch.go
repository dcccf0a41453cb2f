package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"listing-sync/config"
	"listing-sync/models"
	"listing-sync/utils"
)

// DocResult is the store's verdict on one document of a bulk write.
type DocResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	OK     bool   `json:"ok,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Kind classifies a failed result. Results without an explicit ok flag
// count as failures even when they carry no error name.
func (r DocResult) Kind() Kind {
	if r.OK {
		return ""
	}
	return kindForDocError(r.Error)
}

// Err turns a failed result into a StoreError.
func (r DocResult) Err() error {
	if r.OK {
		return nil
	}
	reason := r.Reason
	if reason == "" && r.Error == "" {
		reason = "no success indicator in response"
	}
	return &StoreError{Kind: r.Kind(), Op: "bulk " + r.ID, Reason: strings.TrimSpace(r.Error + " " + reason)}
}

// CouchClient talks to one CouchDB/Cloudant database over HTTP.
type CouchClient struct {
	baseURL  string
	db       string
	username string
	apiKey   string
	http     *http.Client
	logger   *utils.Logger
}

// NewCouchClient creates a client for database db on the configured server.
func NewCouchClient(cfg *config.Config, db string, logger *utils.Logger) *CouchClient {
	return &CouchClient{
		baseURL:  strings.TrimRight(cfg.CouchURL, "/"),
		db:       db,
		username: cfg.CouchUsername,
		apiKey:   cfg.CouchAPIKey,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

// Name is the database name, used in the audit trail.
func (c *CouchClient) Name() string { return c.db }

// EnsureDB creates the database if it does not exist yet.
func (c *CouchClient) EnsureDB(ctx context.Context) error {
	err := c.do(ctx, "create db", http.MethodPut, "/"+url.PathEscape(c.db), nil, nil, nil)
	var se *StoreError
	if errors.As(err, &se) && se.StatusCode == http.StatusPreconditionFailed {
		return nil
	}
	if err == nil {
		c.logger.Info("[couch] Created database %s", c.db)
	}
	return err
}

type allDocsRow struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Error string `json:"error"`
	Value *struct {
		Rev     string `json:"rev"`
		Deleted bool   `json:"deleted"`
	} `json:"value"`
	Doc json.RawMessage `json:"doc"`
}

type allDocsResponse struct {
	Rows []allDocsRow `json:"rows"`
}

// Revisions returns id -> current revision for the ids that exist. Missing
// and deleted documents are absent from the map.
func (c *CouchClient) Revisions(ctx context.Context, ids []string) (map[string]string, error) {
	revs := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return revs, nil
	}
	var resp allDocsResponse
	body := map[string]any{"keys": ids}
	if err := c.do(ctx, "revisions", http.MethodPost, c.dbPath("_all_docs"), nil, body, &resp); err != nil {
		return nil, err
	}
	for _, row := range resp.Rows {
		if row.Error != "" || row.Value == nil || row.Value.Deleted {
			continue
		}
		revs[row.ID] = row.Value.Rev
	}
	return revs, nil
}

// FetchDocs returns the stored documents for ids, skipping missing ones.
func (c *CouchClient) FetchDocs(ctx context.Context, ids []string) ([]*models.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{"include_docs": {"true"}}
	var resp allDocsResponse
	body := map[string]any{"keys": ids}
	if err := c.do(ctx, "fetch", http.MethodPost, c.dbPath("_all_docs"), q, body, &resp); err != nil {
		return nil, err
	}
	return decodeRows(resp.Rows)
}

// AllDocs returns every listing document in the database.
func (c *CouchClient) AllDocs(ctx context.Context) ([]*models.Listing, error) {
	q := url.Values{"include_docs": {"true"}}
	var resp allDocsResponse
	if err := c.do(ctx, "all docs", http.MethodGet, c.dbPath("_all_docs"), q, nil, &resp); err != nil {
		return nil, err
	}
	return decodeRows(resp.Rows)
}

func decodeRows(rows []allDocsRow) ([]*models.Listing, error) {
	out := make([]*models.Listing, 0, len(rows))
	for _, row := range rows {
		if row.Error != "" || len(row.Doc) == 0 || string(row.Doc) == "null" || strings.HasPrefix(row.ID, "_design/") {
			continue
		}
		l := &models.Listing{}
		if err := json.Unmarshal(row.Doc, l); err != nil {
			return nil, fmt.Errorf("decode %s: %w", row.ID, err)
		}
		out = append(out, l)
	}
	return out, nil
}

// BulkUpsert writes docs in one request. The returned slice holds one
// result per document; partial failure is not an error.
func (c *CouchClient) BulkUpsert(ctx context.Context, docs []*models.Listing) ([]DocResult, error) {
	var results []DocResult
	body := map[string]any{"docs": docs}
	if err := c.do(ctx, "bulk upsert", http.MethodPost, c.dbPath("_bulk_docs"), nil, body, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Get reads one document.
func (c *CouchClient) Get(ctx context.Context, id string) (*models.Listing, error) {
	l := &models.Listing{}
	if err := c.do(ctx, "get "+id, http.MethodGet, c.dbPath(id), nil, nil, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Put writes one document and returns its new revision. doc.Rev must hold
// the current revision when the document already exists.
func (c *CouchClient) Put(ctx context.Context, doc *models.Listing) (string, error) {
	var res DocResult
	if err := c.do(ctx, "put "+doc.ID, http.MethodPut, c.dbPath(doc.ID), nil, doc, &res); err != nil {
		return "", err
	}
	return res.Rev, nil
}

func (c *CouchClient) dbPath(rest string) string {
	if strings.HasPrefix(rest, "_") {
		return "/" + url.PathEscape(c.db) + "/" + rest
	}
	return "/" + url.PathEscape(c.db) + "/" + url.PathEscape(rest)
}

type couchError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (c *CouchClient) do(ctx context.Context, op, method, path string, q url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &StoreError{Kind: KindRejected, Op: op, Reason: "encode request", Err: err}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &StoreError{Kind: KindFatal, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		kind := KindTransient
		if ctx.Err() != nil {
			kind = KindFatal
		}
		return &StoreError{Kind: kind, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var ce couchError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &ce)
		reason := strings.TrimSpace(ce.Error + " " + ce.Reason)
		return &StoreError{Kind: kindForStatus(resp.StatusCode), Op: op, StatusCode: resp.StatusCode, Reason: reason}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &StoreError{Kind: KindTransient, Op: op, StatusCode: resp.StatusCode, Reason: "decode response", Err: err}
	}
	return nil
}
