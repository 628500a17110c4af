package sanitize

import (
	"net/url"
	"strings"
)

// URL removes credentials and secret query parameters from a URL.
// Unparseable input is returned truncated, but otherwise untouched.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Truncate(raw, 200)
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), Filtered)
		}
	}
	if u.RawQuery != "" {
		u.RawQuery = query(u.RawQuery)
	}
	// url.String escapes the brackets of Filtered in userinfo, undo that
	// for readability.
	s := u.String()
	s = strings.ReplaceAll(s, url.QueryEscape(Filtered), Filtered)
	return s
}

func query(raw string) string {
	parts := strings.Split(raw, "&")
	for i, p := range parts {
		k, _, hasValue := strings.Cut(p, "=")
		name, err := url.QueryUnescape(k)
		if err != nil {
			name = k
		}
		if hasValue && IsSensitiveKey(name) {
			parts[i] = k + "=" + Filtered
		}
	}
	return strings.Join(parts, "&")
}
