// Package apikey canonicalizes caller-supplied Places API keys and derives
// the opaque identity the credit ledger is keyed by.
package apikey

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrEmptyKey is returned when a key normalizes to the empty string.
var ErrEmptyKey = errors.New("api key is empty")

var keyHashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Hasher produces a hex digest of the normalized key bytes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Normalize removes all whitespace (including U+3000) and strips one layer of
// wrapping single or double quotes.
func Normalize(raw string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '　' {
			return -1
		}
		return r
	}, raw)
	if len(s) >= 2 && isQuote(s[0]) && isQuote(s[len(s)-1]) {
		s = s[1 : len(s)-1]
	}
	return s
}

func isQuote(b byte) bool {
	return b == '"' || b == '\''
}

// Hash normalizes raw and returns its ledger identity.
func Hash(h Hasher, raw string) (string, error) {
	normalized := Normalize(raw)
	if normalized == "" {
		return "", ErrEmptyKey
	}
	sum, err := h.Hash([]byte(normalized))
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return sum, nil
}

// ValidHash reports whether s looks like a key hash produced by Hash.
func ValidHash(s string) bool {
	return keyHashPattern.MatchString(s)
}
