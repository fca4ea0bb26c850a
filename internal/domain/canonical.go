package domain

import (
	"regexp"
	"strings"
)

var duplicateSlashes = regexp.MustCompile(`/{2,}`)

// CanonicalURL normalizes an instance URL so the same instance always
// produces the same string: query and fragment are dropped, a trailing
// index.php is removed, duplicate slashes in the path collapse and the
// trailing slash of a bare web root is trimmed. Sub paths keep their slash.
//
// CanonicalURL(CanonicalURL(u)) == CanonicalURL(u).
func CanonicalURL(raw string) string {
	u := strings.TrimSpace(raw)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}

	scheme := ""
	if i := strings.Index(u, "://"); i >= 0 {
		scheme, u = u[:i+3], u[i+3:]
	}

	// A path like /index.php//index.php needs several rounds.
	for {
		before := u
		u = strings.TrimSuffix(u, "index.php")
		u = duplicateSlashes.ReplaceAllString(u, "/")
		if u == before {
			break
		}
	}

	if strings.Count(u, "/") == 1 && strings.HasSuffix(u, "/") {
		u = strings.TrimSuffix(u, "/")
	}
	return scheme + u
}

// HTTPVariant returns the plain http:// form of an http or https URL.
func HTTPVariant(u string) string {
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "http://" + rest
	}
	return u
}

// HasSupportedScheme reports whether the URL starts with http:// or https://.
func HasSupportedScheme(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
