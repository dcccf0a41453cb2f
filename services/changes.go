package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"listing-sync/models"
)

// Outcome is the result of comparing a snapshot against the stored one.
type Outcome int

const (
	OutcomeNew Outcome = iota
	OutcomeUnchanged
	OutcomeChanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "NEW"
	case OutcomeUnchanged:
		return "UNCHANGED"
	default:
		return "CHANGED"
	}
}

// Classification is an Outcome plus the human-readable list of differences,
// e.g. "Changed: list_price" or "Added: sold".
type Classification struct {
	Outcome Outcome
	Changes []string
}

// NeedsWrite reports whether the snapshot should be persisted.
func (c Classification) NeedsWrite() bool {
	return c.Outcome != OutcomeUnchanged
}

// provenanceKeys never count as a change.
var provenanceKeys = map[string]struct{}{
	"_id":            {},
	"_rev":           {},
	"added_date":     {},
	"scraped_time":   {},
	"scraped_source": {},
	"modified_time":  {},
	"changes":        {},
}

// DefaultWatched is the minimal watch set: lifecycle status and prices.
var DefaultWatched = []models.FieldPath{
	{"status"},
	{"listing", "list_price"},
	{"listing", "sale_price"},
}

// ChangeDetector compares listings field by field. With an empty Watched set
// every non-provenance field is compared.
type ChangeDetector struct {
	Watched []models.FieldPath
}

// NewChangeDetector watches the given paths, or everything when none are given.
func NewChangeDetector(watched ...models.FieldPath) *ChangeDetector {
	return &ChangeDetector{Watched: watched}
}

// HasChanged reports whether incoming differs from existing. A missing
// existing listing always counts as changed.
func (d *ChangeDetector) HasChanged(incoming, existing *models.Listing) bool {
	if existing == nil {
		return true
	}
	return len(d.Diff(incoming, existing)) > 0
}

// Classify decides between NEW, UNCHANGED and CHANGED.
func (d *ChangeDetector) Classify(incoming, existing *models.Listing) Classification {
	if existing == nil {
		return Classification{Outcome: OutcomeNew}
	}
	changes := d.Diff(incoming, existing)
	if len(changes) == 0 {
		return Classification{Outcome: OutcomeUnchanged}
	}
	return Classification{Outcome: OutcomeChanged, Changes: changes}
}

// Diff lists the differences between incoming and existing.
func (d *ChangeDetector) Diff(incoming, existing *models.Listing) []string {
	if len(d.Watched) > 0 {
		return d.diffWatched(incoming, existing)
	}
	return diffDocuments(incoming, existing)
}

func (d *ChangeDetector) diffWatched(incoming, existing *models.Listing) []string {
	var changes []string
	for _, p := range d.Watched {
		iv, inNew := incoming.Lookup(p)
		ev, inOld := existing.Lookup(p)
		name := p[len(p)-1]
		switch {
		case !inNew && !inOld:
		case inNew && !inOld:
			changes = append(changes, "Added: "+name)
		case !inNew && inOld:
			changes = append(changes, "Removed: "+name)
		case !ValuesEqual(iv, ev):
			changes = append(changes, "Changed: "+name)
		}
	}
	return changes
}

// diffDocuments walks the stored shape of both listings one category deep.
func diffDocuments(incoming, existing *models.Listing) []string {
	in, errIn := documentMap(incoming)
	ex, errEx := documentMap(existing)
	if errIn != nil || errEx != nil {
		return []string{fmt.Sprintf("Changed: unreadable document (%v, %v)", errIn, errEx)}
	}

	var changes []string
	for _, key := range sortedKeys(in) {
		iv := in[key]
		ev, ok := ex[key]
		im, isMap := iv.(map[string]any)
		if !isMap {
			switch {
			case !ok:
				changes = append(changes, "Added: "+key)
			case !canonicalEqual(iv, ev):
				changes = append(changes, "Changed: "+key)
			}
			continue
		}
		em, _ := ev.(map[string]any)
		for _, field := range sortedKeys(im) {
			old, ok := em[field]
			switch {
			case !ok:
				changes = append(changes, "Added: "+field)
			case !canonicalEqual(im[field], old):
				changes = append(changes, "Changed: "+field)
			}
		}
		for _, field := range sortedKeys(em) {
			if _, ok := im[field]; !ok {
				changes = append(changes, "Removed: "+field)
			}
		}
	}
	for _, key := range sortedKeys(ex) {
		if _, ok := in[key]; ok {
			continue
		}
		em, isMap := ex[key].(map[string]any)
		if !isMap {
			changes = append(changes, "Removed: "+key)
			continue
		}
		for _, field := range sortedKeys(em) {
			changes = append(changes, "Removed: "+field)
		}
	}
	return changes
}

func documentMap(l *models.Listing) (map[string]any, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := decodeNumbers(raw, &m); err != nil {
		return nil, err
	}
	for k := range provenanceKeys {
		delete(m, k)
	}
	return m, nil
}

// ValuesEqual compares two field values by meaning rather than formatting:
// numbers by decimal value, strings trimmed and case-insensitive, lists and
// maps element by element.
func ValuesEqual(a, b any) bool {
	ca, errA := canonical(a)
	cb, errB := canonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return canonicalEqual(ca, cb)
}

// canonical reduces any value to the generic JSON shapes.
func canonical(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = decodeNumbers(raw, &out)
	return out, err
}

func decodeNumbers(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}

func canonicalEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case json.Number:
		return numbersEqual(x, b)
	case string:
		switch y := b.(type) {
		case string:
			return strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(y))
		case json.Number:
			return numbersEqual(y, x)
		}
		return false
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !canonicalEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !canonicalEqual(xv, yv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func numbersEqual(n json.Number, other any) bool {
	a, err := decimal.NewFromString(n.String())
	if err != nil {
		return false
	}
	b, ok := models.Number(other)
	return ok && a.Equal(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
