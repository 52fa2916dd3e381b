// Package phone normalizes raw phone input into E.164.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Normalize converts raw input into canonical E.164 form, parsing against
// defaultRegion (ISO 3166-1 alpha-2, e.g. "BY") when no country prefix is
// present. A number is accepted only if it is structurally valid for some
// country. Classification only: the second return is false for anything
// unparseable or invalid, and Normalize never panics.
func Normalize(raw, defaultRegion string) (string, bool) {
	cleaned := clean(raw)
	if cleaned == "" {
		return "", false
	}

	num, err := phonenumbers.Parse(cleaned, defaultRegion)
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

// clean strips everything except digits and '+'.
func clean(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
