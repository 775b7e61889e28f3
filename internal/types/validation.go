package types

import (
	"regexp"
	"strings"
)

// E164Pattern is the accepted shape of a normalized destination phone.
var E164Pattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// SanitizePhone normalizes free-form North American input to E.164.
//
// Everything but digits and a leading '+' is stripped. Ten digits get a +1
// country code, eleven digits starting with 1 get a '+', and anything else
// already carrying '+' is kept as-is.
func SanitizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	hasPlus := strings.HasPrefix(raw, "+")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case hasPlus:
		return "+" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	default:
		return "+" + digits
	}
}

// IsValidPhone reports whether phone matches E164Pattern.
func IsValidPhone(phone string) bool {
	return E164Pattern.MatchString(phone)
}
