package sanitize

import (
	"regexp"
	"strings"
)

// MaxSQLLength is the maximum length of a query before the ellipsis.
const MaxSQLLength = 1000

// sqlSecretRe matches `<name> = <value>` pairs where the name refers to a
// secret. The value can be single or double quoted, or bare. Quotes inside
// a quoted value are escaped with a backslash or by doubling them.
var sqlSecretRe = regexp.MustCompile(
	`(?i)\b(\w*(?:password|token|secret|key|ssn|credit_card)\w*)` +
		"([\"'`]?\\s*(?:=>|=|:)\\s*)" +
		`('(?:[^'\\]|\\.|'')*'|"(?:[^"\\]|\\.|"")*"|[^\s,;)]+)`)

// SQL redacts secret values from a query and truncates it to
// MaxSQLLength characters plus an ellipsis.
func SQL(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	q = sqlSecretRe.ReplaceAllStringFunc(q, func(match string) string {
		m := sqlSecretRe.FindStringSubmatch(match)
		if len(m) != 4 {
			return match
		}
		return m[1] + m[2] + placeholder(m[3])
	})
	return Truncate(q, MaxSQLLength)
}

func placeholder(value string) string {
	switch {
	case strings.HasPrefix(value, "'"):
		return "'" + Filtered + "'"
	case strings.HasPrefix(value, `"`):
		return `"` + Filtered + `"`
	default:
		return Filtered
	}
}
