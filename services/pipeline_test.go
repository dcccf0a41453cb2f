package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-sync/models"
	"listing-sync/storage"
)

var pipelineNow = time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)

type fakeScraper struct {
	pages map[string]models.Fragment
	calls int
}

func (f *fakeScraper) Source() string { return "RealScout" }

func (f *fakeScraper) Fetch(_ context.Context, url string) (models.Fragment, error) {
	f.calls++
	page, ok := f.pages[url]
	if !ok {
		return nil, errors.New("listing unavailable")
	}
	return page, nil
}

func listingPage(addr, badge, price string) models.Fragment {
	return models.Fragment{
		"main":    {"full_address": addr, "beds": "2", "baths": "1.5", "badge": badge},
		"listing": {"list_price": price},
	}
}

type pipelineRig struct {
	raw, clean *memStore
	geo        *fakeGeo
	scraper    *fakeScraper
	history    *storage.HistoryStore
}

func newTestPipeline(t *testing.T) (*Pipeline, *pipelineRig) {
	t.Helper()
	rig := &pipelineRig{
		raw:     newMemStore(),
		clean:   newMemStore(),
		geo:     &fakeGeo{},
		scraper: &fakeScraper{pages: map[string]models.Fragment{}},
	}
	rig.raw.name = "deathpledge_raw"

	h, err := storage.NewHistoryStore(t.TempDir())
	require.NoError(t, err)
	rig.history = h
	fb := NewFallback(h, newTestLogger())
	fb.now = func() time.Time { return pipelineNow }

	logger := newTestLogger()
	p := NewPipeline(PipelineDeps{
		Scraper:   rig.scraper,
		Raw:       rig.raw,
		Clean:     rig.clean,
		RawSync:   NewSyncEngine(testSyncConfig(), rig.raw, nil, logger),
		CleanSync: NewSyncEngine(testSyncConfig(), rig.clean, nil, logger),
		Cleaner:   NewCleaner(logger),
		Enricher:  newTestEnricher(rig.geo),
		Fallback:  fb,
		Insights:  NewInsightService(logger),
		Logger:    logger,
	})
	p.now = func() time.Time { return pipelineNow }
	return p, rig
}

const (
	homeURL    = "https://www.realscout.com/homes/1"
	badAddrURL = "https://www.realscout.com/homes/2"
)

func queued(urls ...string) []storage.QueuedURL {
	out := make([]storage.QueuedURL, len(urls))
	for i, u := range urls {
		out[i] = storage.QueuedURL{URL: u, AddedDate: pipelineNow.Add(-24 * time.Hour)}
	}
	return out
}

func TestPipelineFirstRun(t *testing.T) {
	p, rig := newTestPipeline(t)
	rig.scraper.pages[homeURL] = listingPage(sampleAddress, "Active", "$425,000")
	rig.scraper.pages[badAddrURL] = listingPage("!!", "Active", "$1")

	res, err := p.Run(context.Background(), queued(homeURL, badAddrURL), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Scraped)
	assert.Equal(t, 1, res.Unresolved)
	assert.Equal(t, 1, res.FallbackWritten, "unresolved listing saved locally")

	id, err := ResolveIdentity(sampleAddress)
	require.NoError(t, err)
	assert.Contains(t, res.Raw.Confirmed, id)
	assert.Contains(t, res.Clean.Confirmed, id)
	assert.Len(t, rig.raw.docs, 1)

	clean := rig.clean.docs[id]
	require.NotNil(t, clean)
	assert.Equal(t, models.StatusActive, clean.Status)
	assert.Equal(t, "22204", clean.ParsedAddress[LabelZipCode])
	assert.True(t, clean.Enrichment.Geocoords.Present())
	assert.Equal(t, "2024-03-20T09:00:00", clean.ModifiedTime)
	assert.Equal(t, 1, rig.geo.geocodes)

	placeholder, err := rig.history.Read(PlaceholderIdentity(pipelineNow) + ".json")
	require.NoError(t, err)
	require.Len(t, placeholder, 1)
	assert.Equal(t, badAddrURL, placeholder[0].URL)

	require.NotNil(t, res.Insights)
	assert.Equal(t, 1, res.Insights.TotalListings)
}

func TestPipelineSecondRunWritesNothing(t *testing.T) {
	p, rig := newTestPipeline(t)
	rig.scraper.pages[homeURL] = listingPage(sampleAddress, "Active", "$425,000")

	_, err := p.Run(context.Background(), queued(homeURL), RunOptions{})
	require.NoError(t, err)
	rawBulk, cleanBulk := rig.raw.bulkCalls, rig.clean.bulkCalls

	res, err := p.Run(context.Background(), queued(homeURL), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, rawBulk, rig.raw.bulkCalls, "unchanged scrape is not written")
	assert.Equal(t, cleanBulk, rig.clean.bulkCalls, "unchanged clean listing is not written")
	assert.Equal(t, 1, rig.geo.geocodes, "stored enrichment is reused")
	assert.Empty(t, res.Clean.Confirmed)
	assert.Zero(t, res.FallbackWritten)
}

func TestPipelinePriceChangeIsRecorded(t *testing.T) {
	p, rig := newTestPipeline(t)
	rig.scraper.pages[homeURL] = listingPage(sampleAddress, "Active", "$425,000")
	_, err := p.Run(context.Background(), queued(homeURL), RunOptions{})
	require.NoError(t, err)

	rig.scraper.pages[homeURL] = listingPage(sampleAddress, "Active", "$415,000")
	res, err := p.Run(context.Background(), queued(homeURL), RunOptions{})
	require.NoError(t, err)

	id, _ := ResolveIdentity(sampleAddress)
	assert.Contains(t, res.Raw.Confirmed, id)
	assert.Equal(t, "2-x", res.Clean.Confirmed[id])
	assert.Contains(t, rig.clean.docs[id].Changes, "Changed: list_price")
}

func TestPipelineSkipsClosedListings(t *testing.T) {
	p, rig := newTestPipeline(t)
	id, err := ResolveIdentity(sampleAddress)
	require.NoError(t, err)

	prior := models.NewListing(homeURL, pipelineNow.Add(-48*time.Hour))
	prior.ApplyFragment(listingPage(sampleAddress, "Sold", "$425,000"), "RealScout", pipelineNow)
	prior.ID = id
	_, ok := rig.raw.write(prior)
	require.True(t, ok)

	urls := queued(homeURL)
	urls[0].DocID = id
	res, err := p.Run(context.Background(), urls, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SkippedClosed)
	assert.Zero(t, rig.scraper.calls)
	require.Contains(t, rig.clean.docs, id, "closed listings are still processed")
	assert.Equal(t, models.StatusClosed, rig.clean.docs[id].Status)
}

func TestPipelineRescrapesClosedWhenAsked(t *testing.T) {
	p, rig := newTestPipeline(t)
	id, _ := ResolveIdentity(sampleAddress)

	prior := models.NewListing(homeURL, pipelineNow.Add(-48*time.Hour))
	prior.ApplyFragment(listingPage(sampleAddress, "Sold", "$425,000"), "RealScout", pipelineNow)
	prior.ID = id
	rig.raw.write(prior)
	rig.scraper.pages[homeURL] = listingPage(sampleAddress, "Sold", "$415,000")

	urls := queued(homeURL)
	urls[0].DocID = id
	res, err := p.Run(context.Background(), urls, RunOptions{RescrapeClosed: true})
	require.NoError(t, err)
	assert.Zero(t, res.SkippedClosed)
	assert.Equal(t, 1, rig.scraper.calls)
	assert.Contains(t, res.Raw.Confirmed, id)
	assert.Equal(t, prior.AddedDate, rig.raw.docs[id].AddedDate, "first-seen date is kept")
}

func TestPipelineProcessOnly(t *testing.T) {
	p, rig := newTestPipeline(t)
	p.Scraper = nil

	id, _ := ResolveIdentity(sampleAddress)
	stored := models.NewListing(homeURL, pipelineNow)
	stored.ApplyFragment(listingPage(sampleAddress, "Active", "$425,000"), "RealScout", pipelineNow)
	stored.ID = id
	rig.raw.write(stored)

	res, err := p.Run(context.Background(), queued(homeURL), RunOptions{ProcessOnly: true})
	require.NoError(t, err)
	assert.Nil(t, res.Raw)
	assert.Contains(t, res.Clean.Confirmed, id)
	assert.Zero(t, rig.raw.bulkCalls, "raw store is only read")
}

func TestPipelineRequiresScraper(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.Scraper = nil
	_, err := p.Run(context.Background(), queued(homeURL), RunOptions{})
	assert.Error(t, err)
}

func TestPipelineFallsBackWhenCleanStoreFails(t *testing.T) {
	p, rig := newTestPipeline(t)
	rig.scraper.pages[homeURL] = listingPage(sampleAddress, "Active", "$425,000")
	rig.clean.bulkErrs = []error{&storage.StoreError{Kind: storage.KindFatal, Op: "bulk", StatusCode: http.StatusUnauthorized}}

	res, err := p.Run(context.Background(), queued(homeURL), RunOptions{})
	require.NoError(t, err, "store outages are reported, not returned")
	assert.Len(t, res.Clean.Failures, 1)
	assert.Equal(t, 1, res.FallbackWritten)

	saved, err := rig.history.Read("5065_7TH_RD_S_202_ARLINGTON_VA_22204.json")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Enrichment.Geocoords.Present())
}

func TestPipelineScrapeFailureKeepsPrior(t *testing.T) {
	p, rig := newTestPipeline(t)
	id, _ := ResolveIdentity(sampleAddress)
	prior := models.NewListing(homeURL, pipelineNow)
	prior.ApplyFragment(listingPage(sampleAddress, "Active", "$425,000"), "RealScout", pipelineNow)
	prior.ID = id
	rig.raw.write(prior)

	urls := queued(homeURL)
	urls[0].DocID = id
	res, err := p.Run(context.Background(), urls, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ScrapeFailures)
	assert.Contains(t, rig.clean.docs, id)
}

func TestMergeEnrichmentKeepsComputedValues(t *testing.T) {
	prior := models.Enrichment{
		Geocoords:   models.Known(models.Coords{Lat: 1, Lon: 2}),
		TetherMiles: models.Missing[float64](),
		Driving: map[string]models.Derived[models.Drive]{
			"climbing_gym": models.Known(models.Drive{DistanceMiles: 12}),
		},
	}
	dst := models.Enrichment{TetherMiles: models.Known(3.5)}
	mergeEnrichment(&dst, prior)

	assert.True(t, dst.Geocoords.Present())
	assert.Equal(t, 3.5, dst.TetherMiles.Value, "newer values win")
	assert.Equal(t, models.NotComputed, dst.WorkCommute.State)
	assert.True(t, dst.Driving["climbing_gym"].Present())
}
