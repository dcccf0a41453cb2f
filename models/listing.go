package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Currency values are stored as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// DocType tags every listing document in the store.
const DocType = "home"

// TimeFormat is used for every timestamp kept inside a listing document.
const TimeFormat = "2006-01-02T15:04:05"

// Status is the lifecycle tag of a listing.
type Status string

const (
	StatusActive        Status = "Active"
	StatusPending       Status = "Pending"
	StatusUnderContract Status = "Active Under Contract"
	StatusClosed        Status = "Closed"
	StatusUnknown       Status = "unknown"
)

// ParseStatus maps the many spellings sites use onto a Status.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "for sale", "new", "coming soon":
		return StatusActive
	case "pending", "under contract":
		return StatusPending
	case "active under contract", "contingent":
		return StatusUnderContract
	case "closed", "sold", "closed/sold", "off market":
		return StatusClosed
	default:
		return StatusUnknown
	}
}

// Retired reports whether the listing no longer needs scraping.
func (s Status) Retired() bool {
	return s == StatusClosed
}

// Category is one open-ended group of scraped fields, e.g. "main" or
// "building_information". Values are strings, numbers, lists or nested maps.
type Category map[string]any

// Fragment is what a site adapter returns: category -> field -> raw value.
type Fragment map[string]Category

// FieldPath addresses a value in a listing: a single core key such as
// "status", or a category followed by one or more nested field names.
type FieldPath []string

// ParseFieldPath splits "listing.expenses_taxes.tax_year" on dots.
func ParseFieldPath(s string) FieldPath {
	return FieldPath(strings.Split(s, "."))
}

func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

// ErrNotMapping is returned when a path runs through a non-map value.
var ErrNotMapping = errors.New("path segment is not a mapping")

// Listing is the canonical record for one property. A typed core sits on top
// of the open Categories map; Extra keeps unknown scalar keys so documents
// written by older versions survive a round trip.
type Listing struct {
	ID            string
	Rev           string
	DocType       string
	URL           string
	AddedDate     string
	ScrapedTime   string
	ScrapedSource string
	ModifiedTime  string
	Changes       []string

	Status        Status
	FullAddress   string
	ParsedAddress map[string]string
	Enrichment    Enrichment

	Categories map[string]Category
	Extra      map[string]any
}

// NewListing starts an empty record for a URL. added defaults to now.
func NewListing(url string, added time.Time) *Listing {
	if added.IsZero() {
		added = time.Now()
	}
	return &Listing{
		DocType:    DocType,
		URL:        url,
		AddedDate:  added.Format(TimeFormat),
		Categories: make(map[string]Category),
		Extra:      make(map[string]any),
	}
}

// ApplyFragment merges a scraped fragment into the listing and stamps the
// provenance fields. The address and status are lifted into the typed core.
func (l *Listing) ApplyFragment(f Fragment, source string, at time.Time) {
	if l.Categories == nil {
		l.Categories = make(map[string]Category)
	}
	for name, cat := range f {
		dst, ok := l.Categories[name]
		if !ok {
			dst = make(Category, len(cat))
			l.Categories[name] = dst
		}
		for k, v := range cat {
			dst[k] = v
		}
	}

	if main, ok := l.Categories["main"]; ok {
		if addr, ok := main["full_address"].(string); ok && strings.TrimSpace(addr) != "" {
			l.FullAddress = strings.TrimSpace(addr)
			delete(main, "full_address")
		}
	}
	if lst, ok := l.Categories["listing"]; ok {
		if s, ok := lst["status"].(string); ok && s != "" {
			l.Status = ParseStatus(s)
			delete(lst, "status")
		}
	}
	if l.Status == "" || l.Status == StatusUnknown {
		if main, ok := l.Categories["main"]; ok {
			if badge, ok := main["badge"].(string); ok && badge != "" {
				l.Status = ParseStatus(badge)
			}
		}
	}
	if l.Status == "" {
		l.Status = StatusUnknown
	}

	l.ScrapedSource = source
	l.ScrapedTime = at.Format(TimeFormat)
}

// Lookup returns the value at p and whether it is present.
func (l *Listing) Lookup(p FieldPath) (any, bool) {
	if len(p) == 0 {
		return nil, false
	}
	if len(p) == 1 {
		switch p[0] {
		case "status":
			return string(l.Status), l.Status != ""
		case "full_address":
			return l.FullAddress, l.FullAddress != ""
		case "url":
			return l.URL, l.URL != ""
		}
		if cat, ok := l.Categories[p[0]]; ok {
			return cat, true
		}
		v, ok := l.Extra[p[0]]
		return v, ok
	}

	cat, ok := l.Categories[p[0]]
	if !ok {
		return nil, false
	}
	var cur any = map[string]any(cat)
	for _, seg := range p[1:] {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at p, creating the category and intermediate maps as needed.
func (l *Listing) Set(p FieldPath, v any) error {
	if len(p) < 2 {
		return fmt.Errorf("set %q: need category and field", p)
	}
	if l.Categories == nil {
		l.Categories = make(map[string]Category)
	}
	cat, ok := l.Categories[p[0]]
	if !ok {
		cat = make(Category)
		l.Categories[p[0]] = cat
	}

	m := map[string]any(cat)
	for _, seg := range p[1 : len(p)-1] {
		next, exists := m[seg]
		if !exists {
			child := make(map[string]any)
			m[seg] = child
			m = child
			continue
		}
		child, ok := asMap(next)
		if !ok {
			return fmt.Errorf("set %q at %q: %w", p, seg, ErrNotMapping)
		}
		m = child
	}
	m[p[len(p)-1]] = v
	return nil
}

// Delete removes the value at p. It reports whether something was removed.
func (l *Listing) Delete(p FieldPath) bool {
	if len(p) < 2 {
		return false
	}
	cat, ok := l.Categories[p[0]]
	if !ok {
		return false
	}
	m := map[string]any(cat)
	for _, seg := range p[1 : len(p)-1] {
		child, ok := asMap(m[seg])
		if !ok {
			return false
		}
		m = child
	}
	if _, ok := m[p[len(p)-1]]; !ok {
		return false
	}
	delete(m, p[len(p)-1])
	return true
}

// Clone returns a deep copy made through the document encoding.
func (l *Listing) Clone() (*Listing, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	out := &Listing{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Category:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// listingCore is the wire shape of the typed fields.
type listingCore struct {
	ID            string            `json:"_id,omitempty"`
	Rev           string            `json:"_rev,omitempty"`
	DocType       string            `json:"doctype,omitempty"`
	URL           string            `json:"url,omitempty"`
	AddedDate     string            `json:"added_date,omitempty"`
	ScrapedTime   string            `json:"scraped_time,omitempty"`
	ScrapedSource string            `json:"scraped_source,omitempty"`
	ModifiedTime  string            `json:"modified_time,omitempty"`
	Changes       []string          `json:"changes,omitempty"`
	Status        Status            `json:"status,omitempty"`
	FullAddress   string            `json:"full_address,omitempty"`
	ParsedAddress map[string]string `json:"parsed_address,omitempty"`
	Enrichment    *Enrichment       `json:"enrichment,omitempty"`
}

var coreKeys = map[string]struct{}{
	"_id": {}, "_rev": {}, "doctype": {}, "url": {}, "added_date": {},
	"scraped_time": {}, "scraped_source": {}, "modified_time": {}, "changes": {},
	"status": {}, "full_address": {}, "parsed_address": {}, "enrichment": {},
}

// IsCoreKey reports whether key belongs to the typed core.
func IsCoreKey(key string) bool {
	_, ok := coreKeys[key]
	return ok
}

// MarshalJSON flattens categories into the top-level document.
func (l Listing) MarshalJSON() ([]byte, error) {
	core := listingCore{
		ID:            l.ID,
		Rev:           l.Rev,
		DocType:       l.DocType,
		URL:           l.URL,
		AddedDate:     l.AddedDate,
		ScrapedTime:   l.ScrapedTime,
		ScrapedSource: l.ScrapedSource,
		ModifiedTime:  l.ModifiedTime,
		Changes:       l.Changes,
		Status:        l.Status,
		FullAddress:   l.FullAddress,
		ParsedAddress: l.ParsedAddress,
	}
	if !l.Enrichment.IsZero() {
		e := l.Enrichment
		core.Enrichment = &e
	}

	coreJSON, err := json.Marshal(core)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(coreJSON, &fields); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(fields)+len(l.Categories)+len(l.Extra))
	for k, v := range l.Extra {
		out[k] = v
	}
	for k, v := range l.Categories {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a stored document back into core, categories and
// extras. Numbers inside categories decode as json.Number.
func (l *Listing) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("listing: %w", err)
	}
	var core listingCore
	if err := json.Unmarshal(b, &core); err != nil {
		return fmt.Errorf("listing core: %w", err)
	}

	*l = Listing{
		ID:            core.ID,
		Rev:           core.Rev,
		DocType:       core.DocType,
		URL:           core.URL,
		AddedDate:     core.AddedDate,
		ScrapedTime:   core.ScrapedTime,
		ScrapedSource: core.ScrapedSource,
		ModifiedTime:  core.ModifiedTime,
		Changes:       core.Changes,
		Status:        core.Status,
		FullAddress:   core.FullAddress,
		ParsedAddress: core.ParsedAddress,
		Categories:    make(map[string]Category),
		Extra:         make(map[string]any),
	}
	if core.Enrichment != nil {
		l.Enrichment = *core.Enrichment
	}

	for k, v := range raw {
		if IsCoreKey(k) {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("listing field %q: %w", k, err)
		}
		if m, ok := val.(map[string]any); ok {
			l.Categories[k] = Category(m)
		} else {
			l.Extra[k] = val
		}
	}
	return nil
}
