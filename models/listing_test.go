package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"Active", StatusActive},
		{"ACTIVE", StatusActive},
		{" pending ", StatusPending},
		{"Active Under Contract", StatusUnderContract},
		{"Sold", StatusClosed},
		{"Closed/Sold", StatusClosed},
		{"closed", StatusClosed},
		{"withdrawn?", StatusUnknown},
		{"", StatusUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseStatus(tt.in), "ParseStatus(%q)", tt.in)
	}
}

func TestApplyFragmentLiftsCore(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewListing("https://example.com/h/1", at)
	l.ApplyFragment(Fragment{
		"main": {
			"full_address": " 5065 7th Rd S #202 Arlington, VA 22204 ",
			"badge":        "Sold",
			"beds":         "2",
		},
		"listing": {"list_price": "$410,000"},
	}, "realscout", at)

	assert.Equal(t, "5065 7th Rd S #202 Arlington, VA 22204", l.FullAddress)
	assert.Equal(t, StatusClosed, l.Status)
	assert.Equal(t, "realscout", l.ScrapedSource)
	assert.Equal(t, "2024-03-01T10:00:00", l.ScrapedTime)

	_, ok := l.Lookup(FieldPath{"main", "full_address"})
	assert.False(t, ok, "address moves to the core")
	beds, ok := l.Lookup(FieldPath{"main", "beds"})
	require.True(t, ok)
	assert.Equal(t, "2", beds)
}

func TestApplyFragmentListingStatusWinsOverBadge(t *testing.T) {
	l := NewListing("u", time.Now())
	l.ApplyFragment(Fragment{
		"main":    {"badge": "Active"},
		"listing": {"status": "Pending"},
	}, "realscout", time.Now())
	assert.Equal(t, StatusPending, l.Status)
}

func TestApplyFragmentDefaultsStatusToUnknown(t *testing.T) {
	l := NewListing("u", time.Now())
	l.ApplyFragment(Fragment{"main": {"beds": "3"}}, "realscout", time.Now())
	assert.Equal(t, StatusUnknown, l.Status)

	raw, err := json.Marshal(l)
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "unknown", flat["status"], "status is always stored")

	l.ApplyFragment(Fragment{"main": {"badge": "Active"}}, "realscout", time.Now())
	assert.Equal(t, StatusActive, l.Status, "a later badge replaces unknown")
}

func TestLookupSetDelete(t *testing.T) {
	l := NewListing("u", time.Now())

	require.NoError(t, l.Set(ParseFieldPath("listing.expenses_taxes.tax_year"), 2023))
	v, ok := l.Lookup(ParseFieldPath("listing.expenses_taxes.tax_year"))
	require.True(t, ok)
	assert.Equal(t, 2023, v)

	_, ok = l.Lookup(ParseFieldPath("listing.expenses_taxes.missing"))
	assert.False(t, ok)
	_, ok = l.Lookup(ParseFieldPath("nothing.here"))
	assert.False(t, ok)

	err := l.Set(ParseFieldPath("listing.expenses_taxes.tax_year.deeper"), 1)
	assert.ErrorIs(t, err, ErrNotMapping)

	assert.True(t, l.Delete(ParseFieldPath("listing.expenses_taxes.tax_year")))
	assert.False(t, l.Delete(ParseFieldPath("listing.expenses_taxes.tax_year")))

	assert.Error(t, l.Set(FieldPath{"status"}, "x"), "core keys are not category paths")
}

func TestLookupCoreFields(t *testing.T) {
	l := NewListing("https://example.com", time.Now())
	_, ok := l.Lookup(FieldPath{"status"})
	assert.False(t, ok)

	l.Status = StatusActive
	v, ok := l.Lookup(FieldPath{"status"})
	require.True(t, ok)
	assert.Equal(t, "Active", v)

	v, ok = l.Lookup(FieldPath{"url"})
	require.True(t, ok)
	assert.Equal(t, "https://example.com", v)
}

func TestListingJSONRoundTrip(t *testing.T) {
	l := NewListing("https://example.com/h/2", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	l.ID = "abc"
	l.Rev = "1-xyz"
	l.Status = StatusActive
	l.FullAddress = "1 MAIN ST"
	l.ParsedAddress = map[string]string{"AddressNumber": "1"}
	l.Categories["listing"] = Category{"list_price": decimal.RequireFromString("410000.50")}
	l.Extra["legacy_flag"] = true
	l.Enrichment.TetherMiles = Known(2.5)
	l.Enrichment.Geocoords = Missing[Coords]()

	raw, err := json.Marshal(l)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "abc", flat["_id"])
	assert.Equal(t, "1-xyz", flat["_rev"])
	assert.Equal(t, "home", flat["doctype"])
	assert.Contains(t, flat, "listing", "categories sit at the top level")
	assert.Equal(t, true, flat["legacy_flag"])
	enrichment := flat["enrichment"].(map[string]any)
	assert.Equal(t, "unavailable", enrichment["geocoords"])
	assert.Equal(t, 2.5, enrichment["tether_miles"])
	assert.Nil(t, enrichment["work_commute"])

	var back Listing
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, l.ID, back.ID)
	assert.Equal(t, l.Rev, back.Rev)
	assert.Equal(t, l.Status, back.Status)
	assert.Equal(t, l.ParsedAddress, back.ParsedAddress)
	assert.Equal(t, true, back.Extra["legacy_flag"])
	assert.Equal(t, Unavailable, back.Enrichment.Geocoords.State)
	assert.Equal(t, NotComputed, back.Enrichment.WorkCommute.State)

	price, ok := back.NumberAt(FieldPath{"listing", "list_price"})
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("410000.5")))
	_, isNumber := back.Categories["listing"]["list_price"].(json.Number)
	assert.True(t, isNumber)
}

func TestListingOmitsEmptyRevAndEnrichment(t *testing.T) {
	l := NewListing("u", time.Now())
	raw, err := json.Marshal(l)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.NotContains(t, flat, "_rev")
	assert.NotContains(t, flat, "enrichment")
}

func TestClone(t *testing.T) {
	l := NewListing("u", time.Now())
	l.Categories["main"] = Category{"beds": 3}
	c, err := l.Clone()
	require.NoError(t, err)

	c.Categories["main"]["beds"] = 4
	v, _ := l.Lookup(FieldPath{"main", "beds"})
	assert.Equal(t, 3, v, "clone must not share maps")
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in   any
		want string
		ok   bool
	}{
		{decimal.RequireFromString("1.50"), "1.5", true},
		{json.Number("295.16"), "295.16", true},
		{3, "3", true},
		{2.5, "2.5", true},
		{"$1,200", "1200", true},
		{"n/a", "0", false},
		{nil, "0", false},
		{[]any{1}, "0", false},
	}
	for _, tt := range tests {
		got, ok := Number(tt.in)
		assert.Equal(t, tt.ok, ok, "Number(%v)", tt.in)
		if ok {
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "Number(%v) = %s", tt.in, got)
		}
	}
}
