package models

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Number reads a numeric field value regardless of how it got there: a fresh
// normalizer result (decimal, int, float64) or a decoded document
// (json.Number). Numeric strings are accepted after stripping "$" and ",".
func Number(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case string:
		s := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(n))
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// NumberAt looks up p and reads it as a number.
func (l *Listing) NumberAt(p FieldPath) (decimal.Decimal, bool) {
	v, ok := l.Lookup(p)
	if !ok {
		return decimal.Zero, false
	}
	return Number(v)
}

// StringAt looks up p and returns it when it is a string.
func (l *Listing) StringAt(p FieldPath) (string, bool) {
	v, ok := l.Lookup(p)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
