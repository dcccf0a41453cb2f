package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DerivedState says whether an enrichment attribute has been worked out.
type DerivedState int

const (
	// NotComputed means no attempt has been made yet.
	NotComputed DerivedState = iota
	// Unavailable means the collaborator was asked and could not answer.
	Unavailable
	// Computed means Value holds a usable result.
	Computed
)

func (s DerivedState) String() string {
	switch s {
	case Unavailable:
		return "unavailable"
	case Computed:
		return "computed"
	default:
		return "not_computed"
	}
}

// UnavailableSentinel is how an Unavailable attribute is persisted.
const UnavailableSentinel = "unavailable"

// Derived holds an attribute produced by enrichment. On the wire it is the
// bare value, the string "unavailable", or null.
type Derived[T any] struct {
	State DerivedState
	Value T
}

// Known builds a Computed attribute.
func Known[T any](v T) Derived[T] {
	return Derived[T]{State: Computed, Value: v}
}

// Missing builds an Unavailable attribute.
func Missing[T any]() Derived[T] {
	return Derived[T]{State: Unavailable}
}

// Present reports whether the attribute holds a usable value.
func (d Derived[T]) Present() bool {
	return d.State == Computed
}

// Get returns the value and whether it is usable.
func (d Derived[T]) Get() (T, bool) {
	return d.Value, d.State == Computed
}

func (d Derived[T]) MarshalJSON() ([]byte, error) {
	switch d.State {
	case Computed:
		return json.Marshal(d.Value)
	case Unavailable:
		return json.Marshal(UnavailableSentinel)
	default:
		return []byte("null"), nil
	}
}

func (d *Derived[T]) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	var zero T

	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*d = Derived[T]{}
		return nil
	}

	var s string
	if trimmed[0] == '"' && json.Unmarshal(trimmed, &s) == nil && s == UnavailableSentinel {
		// A string-typed attribute could legitimately hold "unavailable";
		// none of ours do, so the sentinel wins.
		*d = Derived[T]{State: Unavailable, Value: zero}
		return nil
	}

	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fmt.Errorf("derived: %w", err)
	}
	*d = Derived[T]{State: Computed, Value: v}
	return nil
}
