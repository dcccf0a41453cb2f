package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReviewRow is one flattened line of the review surface.
type ReviewRow struct {
	Identity       string
	URL            string
	Status         Status
	FullAddress    string
	City           string
	State          string
	ListPrice      decimal.NullDecimal
	SalePrice      decimal.NullDecimal
	Beds           *int
	Baths          *float64
	Sqft           *int
	CommuteMinutes *float64
	MetroMinutes   *float64
	TetherMiles    *float64
	UpdatedAt      time.Time
}

// NewReviewRow flattens a clean listing. Missing fields stay NULL.
func NewReviewRow(l *Listing, now time.Time) *ReviewRow {
	row := &ReviewRow{
		Identity:    l.ID,
		URL:         l.URL,
		Status:      l.Status,
		FullAddress: l.FullAddress,
		City:        l.ParsedAddress["PlaceName"],
		State:       l.ParsedAddress["StateName"],
		UpdatedAt:   now,
	}

	if d, ok := l.NumberAt(FieldPath{"listing", "list_price"}); ok {
		row.ListPrice = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	if d, ok := l.NumberAt(FieldPath{"listing", "sale_price"}); ok {
		row.SalePrice = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	if d, ok := l.NumberAt(FieldPath{"main", "beds"}); ok {
		n := int(d.IntPart())
		row.Beds = &n
	}
	if d, ok := l.NumberAt(FieldPath{"main", "baths"}); ok {
		f := d.InexactFloat64()
		row.Baths = &f
	}
	if d, ok := l.NumberAt(FieldPath{"main", "sqft"}); ok {
		n := int(d.IntPart())
		row.Sqft = &n
	}

	row.CommuteMinutes = l.Enrichment.QuickStats.CommuteMinutes
	row.MetroMinutes = l.Enrichment.QuickStats.MetroMinutes
	if miles, ok := l.Enrichment.TetherMiles.Get(); ok {
		row.TetherMiles = &miles
	}
	return row
}

// InsightReport summarises the review table at the end of a run.
type InsightReport struct {
	TotalListings    int
	ListingsByStatus map[Status]int
	ListingsByCity   map[string]int

	AverageListPrice decimal.Decimal
	MinListPrice     decimal.Decimal
	MaxListPrice     decimal.Decimal
	MostExpensive    *ReviewRow

	ShortestCommutes []*ReviewRow
}
