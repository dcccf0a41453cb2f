package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-sync/models"
)

func pricedListing(status models.Status, price string) *models.Listing {
	l := models.NewListing("https://example.com/1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l.ID = "id-1"
	l.Status = status
	l.Categories["listing"] = models.Category{"list_price": decimal.RequireFromString(price)}
	l.Categories["main"] = models.Category{"beds": 3}
	return l
}

func TestClassifyNewWhenNoPrior(t *testing.T) {
	d := NewChangeDetector(DefaultWatched...)
	c := d.Classify(pricedListing(models.StatusActive, "1"), nil)
	assert.Equal(t, OutcomeNew, c.Outcome)
	assert.True(t, c.NeedsWrite())
	assert.True(t, d.HasChanged(pricedListing(models.StatusActive, "1"), nil))
}

func TestWatchedFields(t *testing.T) {
	d := NewChangeDetector(DefaultWatched...)
	base := pricedListing(models.StatusActive, "410000")

	tests := []struct {
		name    string
		mutate  func(l *models.Listing)
		outcome Outcome
		changes []string
	}{
		{"identical", func(l *models.Listing) {}, OutcomeUnchanged, nil},
		{"status", func(l *models.Listing) { l.Status = models.StatusPending }, OutcomeChanged, []string{"Changed: status"}},
		{"price", func(l *models.Listing) {
			l.Categories["listing"]["list_price"] = decimal.NewFromInt(399000)
		}, OutcomeChanged, []string{"Changed: list_price"}},
		{"price formatting only", func(l *models.Listing) {
			l.Categories["listing"]["list_price"] = "$410,000.00"
		}, OutcomeUnchanged, nil},
		{"price from stored document", func(l *models.Listing) {
			l.Categories["listing"]["list_price"] = json.Number("410000")
		}, OutcomeUnchanged, nil},
		{"sale price appears", func(l *models.Listing) {
			l.Categories["listing"]["sale_price"] = decimal.NewFromInt(405000)
		}, OutcomeChanged, []string{"Added: sale_price"}},
		{"unwatched field", func(l *models.Listing) {
			l.Categories["main"]["beds"] = 4
		}, OutcomeUnchanged, nil},
		{"provenance", func(l *models.Listing) {
			l.ScrapedTime = "2030-01-01T00:00:00"
			l.Rev = "9-zzz"
		}, OutcomeUnchanged, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incoming, err := base.Clone()
			require.NoError(t, err)
			tt.mutate(incoming)
			got := d.Classify(incoming, base)
			assert.Equal(t, tt.outcome, got.Outcome)
			assert.Equal(t, tt.changes, got.Changes)
		})
	}
}

func TestStatusComparisonIgnoresCase(t *testing.T) {
	d := NewChangeDetector(DefaultWatched...)
	a := pricedListing("active", "1")
	b := pricedListing(models.StatusActive, "1")
	assert.False(t, d.HasChanged(a, b))
}

func TestAllFieldsMode(t *testing.T) {
	d := NewChangeDetector()
	existing := pricedListing(models.StatusActive, "410000")

	incoming, err := existing.Clone()
	require.NoError(t, err)
	incoming.ScrapedTime = "2030-01-01T00:00:00"
	incoming.ModifiedTime = "2030-01-01T00:00:00"
	incoming.Changes = []string{"Changed: something"}
	assert.Equal(t, OutcomeUnchanged, d.Classify(incoming, existing).Outcome)

	incoming.Categories["main"]["beds"] = 4
	incoming.Categories["main"]["sqft"] = 1104
	incoming.Categories["hoa"] = models.Category{"fee": "10"}
	got := d.Classify(incoming, existing)
	assert.Equal(t, OutcomeChanged, got.Outcome)
	assert.Equal(t, []string{"Added: fee", "Changed: beds", "Added: sqft"}, got.Changes)

	older, err := existing.Clone()
	require.NoError(t, err)
	delete(older.Categories["main"], "beds")
	got = d.Classify(older, existing)
	assert.Equal(t, OutcomeChanged, got.Outcome)
	assert.Equal(t, []string{"Removed: beds"}, got.Changes)
}

func TestAllFieldsModeReportsRemovals(t *testing.T) {
	d := NewChangeDetector()
	existing := pricedListing(models.StatusActive, "410000")
	existing.Categories["hoa"] = models.Category{"fee": "10", "frequency": "monthly"}

	incoming, err := existing.Clone()
	require.NoError(t, err)
	incoming.Status = ""
	delete(incoming.Categories, "hoa")

	got := d.Classify(incoming, existing)
	assert.Equal(t, OutcomeChanged, got.Outcome)
	assert.Equal(t, []string{"Removed: fee", "Removed: frequency", "Removed: status"}, got.Changes)

	assert.True(t, d.HasChanged(existing, incoming), "additions are changes too")
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(decimal.RequireFromString("1.50"), 1.5))
	assert.True(t, ValuesEqual([]string{"a", "b"}, []any{"a", " B "}))
	assert.True(t, ValuesEqual(map[string]any{"x": 1}, models.Category{"x": json.Number("1.0")}))
	assert.False(t, ValuesEqual([]string{"a"}, []string{"a", "b"}))
	assert.False(t, ValuesEqual("Active", "Pending"))
	assert.False(t, ValuesEqual(nil, "x"))
	assert.True(t, ValuesEqual(nil, nil))
}

func TestHasChangedReflexive(t *testing.T) {
	watched := NewChangeDetector(DefaultWatched...)
	all := NewChangeDetector()
	properties := gopter.NewProperties(nil)

	properties.Property("a listing never differs from itself", prop.ForAll(
		func(status string, price int64, beds int, note string) bool {
			l := pricedListing(models.ParseStatus(status), "0")
			l.Categories["listing"]["list_price"] = decimal.NewFromInt(price)
			l.Categories["main"]["beds"] = beds
			l.Categories["main"]["note"] = note
			return !watched.HasChanged(l, l) && !all.HasChanged(l, l)
		},
		gen.OneConstOf("Active", "Pending", "Sold", "Active Under Contract", "?"),
		gen.Int64Range(0, 5_000_000),
		gen.IntRange(0, 10),
		gen.AlphaString(),
	))

	properties.Property("a status change is always detected", prop.ForAll(
		func(price int64) bool {
			a := pricedListing(models.StatusActive, "0")
			a.Categories["listing"]["list_price"] = decimal.NewFromInt(price)
			b, _ := a.Clone()
			b.Status = models.StatusClosed
			return watched.HasChanged(b, a) && all.HasChanged(b, a)
		},
		gen.Int64Range(0, 5_000_000),
	))

	properties.TestingRun(t)
}
