package llmjson

import (
	"regexp"
	"strings"
)

var numericPattern = regexp.MustCompile(`[0-9]+\.?[0-9]*`)

// NormalizeText lowercases s, replaces every character outside [a-z0-9] with a
// space, collapses whitespace runs and trims.
func NormalizeText(s string) string {
	lowered := strings.ToLower(s)
	mapped := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, lowered)
	return strings.Join(strings.Fields(mapped), " ")
}

// CleanNumeric returns the first unsigned decimal number in s, or "".
// "<0.15 mg/dL" yields "0.15".
func CleanNumeric(s string) string {
	return numericPattern.FindString(s)
}
