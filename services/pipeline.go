package services

import (
	"context"
	"errors"
	"time"

	"listing-sync/models"
	"listing-sync/storage"
	"listing-sync/utils"
)

// Scraper fetches the raw fields of one listing page.
type Scraper interface {
	Source() string
	Fetch(ctx context.Context, url string) (models.Fragment, error)
}

// Store is a document store the pipeline reads from and writes to.
type Store interface {
	storage.DocumentStore
	storage.DocumentReader
}

// PipelineDeps are the collaborators of a Pipeline. Scraper may be nil for
// process-only runs; Review may be nil when the review table is disabled.
type PipelineDeps struct {
	Scraper   Scraper
	Raw       Store
	Clean     Store
	RawSync   *SyncEngine
	CleanSync *SyncEngine
	Cleaner   *Cleaner
	Enricher  *Enricher
	Fallback  *Fallback
	Review    storage.ReviewWriter
	Insights  *InsightService
	Logger    *utils.Logger
}

// RunOptions select what a run does.
type RunOptions struct {
	// ProcessOnly skips scraping and reprocesses stored raw documents.
	ProcessOnly bool
	// RescrapeClosed scrapes listings already known to be closed.
	RescrapeClosed bool
	// ForceEnrich recomputes every enrichment attribute.
	ForceEnrich bool
}

// RunResult counts what happened during a run.
type RunResult struct {
	Scraped        int
	ScrapeFailures int
	SkippedClosed  int
	Unresolved     int

	Raw   *SyncReport
	Clean *SyncReport

	FallbackWritten int
	Insights        *models.InsightReport
}

// Pipeline runs scrape -> raw store -> clean -> enrich -> clean store.
type Pipeline struct {
	PipelineDeps
	detector *ChangeDetector
	now      func() time.Time
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		PipelineDeps: deps,
		detector:     NewChangeDetector(),
		now:          time.Now,
	}
}

// Run processes urls. Individual listing failures never stop the run; the
// returned error is only set when nothing could be processed at all.
func (p *Pipeline) Run(ctx context.Context, urls []storage.QueuedURL, opts RunOptions) (*RunResult, error) {
	res := &RunResult{}

	var raw []*models.Listing
	if opts.ProcessOnly {
		docs, err := p.loadRaw(ctx, urls)
		if err != nil {
			return res, err
		}
		raw = docs
	} else {
		if p.Scraper == nil {
			return res, errors.New("pipeline: no scraper configured")
		}
		raw = p.scrape(ctx, urls, opts, res)
	}

	p.Logger.Info("[pipeline] processing %d raw listings", len(raw))
	clean, changed := p.process(ctx, raw, opts)
	res.Clean = p.push(ctx, p.CleanSync, changed, res)

	res.Insights = p.review(ctx, clean)
	return res, nil
}

// scrape fetches every queued URL, writes new or changed scrapes to the raw
// store, and returns the raw listings to process. Closed listings already
// in the raw store are reused as they are.
func (p *Pipeline) scrape(ctx context.Context, urls []storage.QueuedURL, opts RunOptions, res *RunResult) []*models.Listing {
	byDocID, byURL := p.knownRaw(ctx, urls)

	var (
		out     []*models.Listing
		scraped []*models.Listing
	)
	seen := utils.NewKeySet()
	for _, q := range urls {
		if !seen.Add(q.URL) {
			continue
		}
		prior := byDocID[q.DocID]
		if prior == nil {
			prior = byURL[q.URL]
		}
		if prior != nil && prior.Status.Retired() && !opts.RescrapeClosed {
			p.Logger.Info("[pipeline] %s is %s, not scraping", prior.ID, prior.Status)
			res.SkippedClosed++
			out = append(out, prior)
			continue
		}

		frag, err := p.Scraper.Fetch(ctx, q.URL)
		if err != nil {
			p.Logger.Warn("[pipeline] scrape %s: %v", q.URL, err)
			res.ScrapeFailures++
			if prior != nil {
				out = append(out, prior)
			}
			continue
		}
		res.Scraped++

		l := models.NewListing(q.URL, q.AddedDate)
		l.ApplyFragment(frag, p.Scraper.Source(), p.now())
		if prior != nil && prior.AddedDate != "" {
			l.AddedDate = prior.AddedDate
		}

		id, err := ResolveIdentity(l.FullAddress)
		if err != nil {
			l.ID = PlaceholderIdentity(p.now())
			p.Logger.Warn("[pipeline] %s: %v, saving locally as %s", q.URL, err, l.ID)
			res.Unresolved++
			p.persistLocally(res, []*models.Listing{l})
			continue
		}
		l.ID = id
		scraped = append(scraped, l)
		out = append(out, l)
	}

	res.Raw = p.syncRaw(ctx, scraped, res)
	return out
}

// knownRaw loads the raw documents named in the URL sheet.
func (p *Pipeline) knownRaw(ctx context.Context, urls []storage.QueuedURL) (map[string]*models.Listing, map[string]*models.Listing) {
	byDocID := make(map[string]*models.Listing)
	byURL := make(map[string]*models.Listing)

	var ids []string
	for _, q := range urls {
		if q.DocID != "" {
			ids = append(ids, q.DocID)
		}
	}
	if len(ids) == 0 {
		return byDocID, byURL
	}
	docs, err := p.Raw.FetchDocs(ctx, ids)
	if err != nil {
		p.Logger.Warn("[pipeline] could not read known listings from %s: %v", p.Raw.Name(), err)
		return byDocID, byURL
	}
	for _, d := range docs {
		byDocID[d.ID] = d
		if d.URL != "" {
			byURL[d.URL] = d
		}
	}
	return byDocID, byURL
}

// syncRaw writes scrapes that differ from the stored raw documents.
func (p *Pipeline) syncRaw(ctx context.Context, scraped []*models.Listing, res *RunResult) *SyncReport {
	stored := p.fetchByID(ctx, p.Raw, scraped)

	var changed []*models.Listing
	for _, l := range scraped {
		c := p.detector.Classify(l, stored[l.ID])
		if !c.NeedsWrite() {
			p.Logger.Debug("[pipeline] %s unchanged in %s", l.ID, p.Raw.Name())
			continue
		}
		changed = append(changed, l)
	}
	return p.push(ctx, p.RawSync, changed, res)
}

// loadRaw reads the raw documents to reprocess: the sheet's doc ids, or the
// whole raw store filtered to the sheet's URLs when no ids are known.
func (p *Pipeline) loadRaw(ctx context.Context, urls []storage.QueuedURL) ([]*models.Listing, error) {
	var ids []string
	wanted := make(map[string]bool, len(urls))
	for _, q := range urls {
		wanted[q.URL] = true
		if q.DocID != "" {
			ids = append(ids, q.DocID)
		}
	}
	if len(ids) > 0 {
		return p.Raw.FetchDocs(ctx, ids)
	}

	docs, err := p.Raw.AllDocs(ctx)
	if err != nil || len(urls) == 0 {
		return docs, err
	}
	out := docs[:0]
	for _, d := range docs {
		if wanted[d.URL] {
			out = append(out, d)
		}
	}
	return out, nil
}

// process cleans and enriches copies of the raw listings. It returns the
// current clean version of every listing, and separately those that differ
// from the clean store.
func (p *Pipeline) process(ctx context.Context, raw []*models.Listing, opts RunOptions) (all, changed []*models.Listing) {
	stored := p.fetchByID(ctx, p.Clean, raw)

	for _, r := range raw {
		l, err := r.Clone()
		if err != nil {
			p.Logger.Error("[pipeline] %s: copy failed: %v", r.ID, err)
			continue
		}
		p.Cleaner.Clean(l)

		prior := stored[l.ID]
		if prior != nil {
			mergeEnrichment(&l.Enrichment, prior.Enrichment)
		}
		p.Enricher.Enrich(ctx, l, opts.ForceEnrich)

		c := p.detector.Classify(l, prior)
		if !c.NeedsWrite() {
			p.Logger.Debug("[pipeline] %s unchanged in %s", l.ID, p.Clean.Name())
			all = append(all, prior)
			continue
		}
		l.ModifiedTime = p.now().Format(models.TimeFormat)
		l.Changes = c.Changes
		all = append(all, l)
		changed = append(changed, l)
	}
	return all, changed
}

// push syncs docs and saves whatever the store did not confirm locally.
func (p *Pipeline) push(ctx context.Context, engine *SyncEngine, docs []*models.Listing, res *RunResult) *SyncReport {
	if len(docs) == 0 {
		return &SyncReport{Store: engine.store.Name(), Confirmed: map[string]string{}}
	}
	report, err := engine.Sync(ctx, docs)
	if err != nil {
		p.Logger.Error("[pipeline] %s unavailable, saving %d listings locally: %v", report.Store, len(docs), err)
		p.persistLocally(res, docs)
		return report
	}

	var failed []*models.Listing
	for _, d := range docs {
		if report.Failed(d.ID) {
			failed = append(failed, d)
		}
	}
	p.persistLocally(res, failed)
	return report
}

func (p *Pipeline) persistLocally(res *RunResult, docs []*models.Listing) {
	if p.Fallback == nil || len(docs) == 0 {
		return
	}
	n, err := p.Fallback.PersistAll(docs)
	res.FallbackWritten += n
	if err != nil {
		p.Logger.Error("[pipeline] local fallback: %v", err)
	}
}

// review refreshes the review table and builds the insight report.
func (p *Pipeline) review(ctx context.Context, clean []*models.Listing) *models.InsightReport {
	if p.Insights == nil {
		return nil
	}
	now := p.now()
	rows := make([]*models.ReviewRow, 0, len(clean))
	for _, l := range clean {
		rows = append(rows, models.NewReviewRow(l, now))
	}

	if p.Review != nil {
		if err := p.Review.Upsert(ctx, rows); err != nil {
			p.Logger.Error("[pipeline] review table write failed: %v", err)
		} else if all, err := p.Review.FetchAll(ctx); err != nil {
			p.Logger.Error("[pipeline] review table read failed: %v", err)
		} else {
			rows = all
		}
	}
	return p.Insights.Generate(rows)
}

func (p *Pipeline) fetchByID(ctx context.Context, store Store, docs []*models.Listing) map[string]*models.Listing {
	out := make(map[string]*models.Listing, len(docs))
	var ids []string
	for _, d := range docs {
		if d.ID != "" && !IsPlaceholder(d.ID) {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		return out
	}
	stored, err := store.FetchDocs(ctx, ids)
	if err != nil {
		p.Logger.Warn("[pipeline] could not read %s: %v", store.Name(), err)
		return out
	}
	for _, s := range stored {
		out[s.ID] = s
	}
	return out
}

// mergeEnrichment keeps previously derived attributes the new copy lacks.
func mergeEnrichment(dst *models.Enrichment, prior models.Enrichment) {
	if dst.Geocoords.State == models.NotComputed {
		dst.Geocoords = prior.Geocoords
	}
	if dst.WorkCommute.State == models.NotComputed {
		dst.WorkCommute = prior.WorkCommute
	}
	if dst.NearbyTransit.State == models.NotComputed {
		dst.NearbyTransit = prior.NearbyTransit
	}
	if dst.TetherMiles.State == models.NotComputed {
		dst.TetherMiles = prior.TetherMiles
	}
	for name, d := range prior.Driving {
		if _, ok := dst.Driving[name]; ok {
			continue
		}
		if dst.Driving == nil {
			dst.Driving = make(map[string]models.Derived[models.Drive])
		}
		dst.Driving[name] = d
	}
}
