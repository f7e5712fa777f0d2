package enrich

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// NoPhone is shown when a place has no phone number.
const NoPhone = "no phone"

// UnknownAddress is shown when a place has no address.
const UnknownAddress = "unknown address"

var (
	postalMarked    = regexp.MustCompile(`〒[\s\x{3000}]*\d{3}[\s\x{3000}]*[-‐‑–—ーｰ]?[\s\x{3000}]*\d{4}`)
	postalBare      = regexp.MustCompile(`(^|[\s\x{3000}、,])\d{3}-\d{4}([\s\x{3000}、,]|$)`)
	leadingCountry  = regexp.MustCompile(`^[\s\x{3000}]*(日本国?|(?i:japan))([\s\x{3000}]*[、,]|[\s\x{3000}]+|$)`)
	trailingCountry = regexp.MustCompile(`[、,][\s\x{3000}]*(日本国?|(?i:japan))[\s\x{3000}]*$`)
	leadingPunct    = regexp.MustCompile(`^[、,\s\x{3000}]+`)
	trailingPunct   = regexp.MustCompile(`[、,\s\x{3000}]+$`)
	spaceRun        = regexp.MustCompile(`[\s\x{3000}]+`)
)

// SanitizeAddress strips country and postal-code tokens, leading punctuation
// and redundant whitespace. The result is a fixed point: sanitizing it again
// returns the same string.
func SanitizeAddress(raw string) string {
	s := width.Fold.String(raw)
	// Each pass only shrinks or normalizes the string, so this terminates.
	for {
		next := sanitizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func sanitizeOnce(s string) string {
	s = postalMarked.ReplaceAllString(s, " ")
	s = postalBare.ReplaceAllString(s, "$1 $2")
	s = leadingCountry.ReplaceAllString(s, "")
	s = trailingCountry.ReplaceAllString(s, "")
	s = leadingPunct.ReplaceAllString(s, "")
	s = trailingPunct.ReplaceAllString(s, "")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizePhone prefers the domestic number, falls back to the international
// one, and rewrites a "+<countryCode>" prefix to the domestic leading zero.
func NormalizePhone(domestic, international *string, countryCode string) string {
	phone := ""
	for _, candidate := range []*string{domestic, international} {
		if candidate != nil && strings.TrimSpace(*candidate) != "" {
			phone = strings.TrimSpace(width.Fold.String(*candidate))
			break
		}
	}
	if phone == "" {
		return NoPhone
	}
	prefix := "+" + countryCode
	if countryCode == "" || !strings.HasPrefix(phone, prefix) {
		return phone
	}
	rest := strings.TrimPrefix(phone, prefix)
	rest = strings.TrimLeft(rest, " -")
	rest = strings.TrimPrefix(rest, "(0)")
	rest = strings.TrimLeft(rest, " -")
	if strings.HasPrefix(rest, "0") {
		return rest
	}
	return "0" + rest
}
