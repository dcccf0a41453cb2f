package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a document store failure for retry decisions.
type Kind string

const (
	KindConflict  Kind = "conflict"
	KindRejected  Kind = "rejected"
	KindNotFound  Kind = "not_found"
	KindTransient Kind = "transient"
	KindFatal     Kind = "fatal"
)

// Sentinels matched by StoreError.Is.
var (
	ErrConflict  = errors.New("store: conflict")
	ErrRejected  = errors.New("store: rejected")
	ErrNotFound  = errors.New("store: not found")
	ErrTransient = errors.New("store: transient failure")
	ErrFatal     = errors.New("store: fatal failure")
)

// StoreError is any failure reported by, or on the way to, the store.
type StoreError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Reason     string
	Err        error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("store %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrFatal:
		return e.Kind == KindFatal
	}
	return false
}

// KindOf extracts the failure kind of err. Cancellation is fatal; errors
// that did not come from the store are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}
	return KindTransient
}

// kindForStatus maps an HTTP status from the store onto a Kind.
func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusConflict:
		return KindConflict
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusUnauthorized:
		return KindFatal
	case code == http.StatusBadRequest, code == http.StatusForbidden,
		code == http.StatusExpectationFailed, code == http.StatusRequestEntityTooLarge:
		return KindRejected
	case code == http.StatusTooManyRequests, code >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

// kindForDocError maps a per-document error name from a bulk write.
func kindForDocError(name string) Kind {
	switch name {
	case "conflict":
		return KindConflict
	case "not_found":
		return KindNotFound
	case "unauthorized":
		return KindFatal
	case "too_many_requests":
		return KindTransient
	default:
		return KindRejected
	}
}
