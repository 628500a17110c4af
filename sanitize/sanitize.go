// Package sanitize removes secrets from telemetry and bounds its size.
//
// Everything in here runs on data that was produced by the host
// application, so no function in this package returns an error or panics
// on unexpected input.
package sanitize

import (
	"regexp"
	"strings"
)

// Filtered replaces every redacted value.
const Filtered = "[FILTERED]"

// Ellipsis marks truncated strings.
const Ellipsis = "..."

// sensitiveKeyRe matches field and parameter names that hold secrets.
var sensitiveKeyRe = regexp.MustCompile(
	`(?i)(password|passwd|token|secret|api_?key|access_?key|private_?key|ssn|credit_?card|authorization|^key$)`)

// IsSensitiveKey returns true if a map key or parameter name looks like it
// holds a secret.
func IsSensitiveKey(k string) bool {
	return sensitiveKeyRe.MatchString(k)
}

// containsSensitiveWord is used for path segments, where we only look for
// the plain keywords.
func containsSensitiveWord(s string) bool {
	l := strings.ToLower(s)
	for _, w := range sensitiveWords {
		if strings.Contains(l, w) {
			return true
		}
	}
	return false
}

var sensitiveWords = []string{"password", "token", "secret", "key", "ssn", "credit_card"}

// Truncate shortens s to at most max runes followed by Ellipsis.
// A max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + Ellipsis
}
