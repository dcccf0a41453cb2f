package services

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ErrIdentity is returned when an address cannot be canonicalized.
var ErrIdentity = errors.New("identity: address cannot be resolved")

const placeholderPrefix = "unresolved-"

// CanonicalAddress uppercases addr and reduces it to alphanumeric words
// separated by single spaces. Apostrophes are dropped so "O'Neil" stays one
// word; every other symbol splits words, so "1/2" and "12" stay distinct.
func CanonicalAddress(addr string) (string, error) {
	var b strings.Builder
	b.Grow(len(addr))
	gap := false

	for _, r := range addr {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if gap && b.Len() > 0 {
				b.WriteByte(' ')
			}
			gap = false
			b.WriteRune(unicode.ToUpper(r))
		case r == '\'' || r == '\u2019':
		default:
			gap = true
		}
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrIdentity, addr)
	}
	return b.String(), nil
}

// ResolveIdentity returns the SHA-1 hex digest of the canonical address.
func ResolveIdentity(addr string) (string, error) {
	canon, err := CanonicalAddress(addr)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(canon))
	return hex.EncodeToString(sum[:]), nil
}

// IdentityFilename is the local history file name for addr.
func IdentityFilename(addr string) (string, error) {
	canon, err := CanonicalAddress(addr)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(canon, " ", "_") + ".json", nil
}

// PlaceholderIdentity stands in for an identity when the address is not
// known yet. It is never sent to the primary store.
func PlaceholderIdentity(t time.Time) string {
	return placeholderPrefix + t.Format("20060102T150405")
}

// IsPlaceholder reports whether id came from PlaceholderIdentity.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}
