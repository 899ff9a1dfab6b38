// Package httpcache evaluates upstream cache directives. All functions are
// pure: they read response headers and an explicit now, and never fail
// beyond returning zero values for unparsable validators.
package httpcache

import (
	"net/http"
	"regexp"
	"strconv"
	"time"
)

var maxAgeRe = regexp.MustCompile(`max-age=(\d+)`)

// ComputeExpiry returns the absolute expiry instant for a response.
// Precedence: Cache-Control max-age, then Expires, then defaultTTL from now.
// A malformed Expires date is treated as absent.
func ComputeExpiry(h http.Header, defaultTTL time.Duration, now time.Time) time.Time {
	if m := maxAgeRe.FindStringSubmatch(h.Get("Cache-Control")); m != nil {
		secs, err := strconv.Atoi(m[1])
		if err == nil {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}

	if expires := h.Get("Expires"); expires != "" {
		if t, ok := ParseHTTPDate(expires); ok {
			return t
		}
	}

	return now.Add(defaultTTL)
}

// ETag returns the ETag validator, or "" when absent.
func ETag(h http.Header) string {
	return h.Get("ETag")
}

// LastModified returns the Last-Modified validator as an absolute instant.
// Absent or malformed values yield a zero time and false.
func LastModified(h http.Header) (time.Time, bool) {
	lm := h.Get("Last-Modified")
	if lm == "" {
		return time.Time{}, false
	}
	return ParseHTTPDate(lm)
}

// ParseHTTPDate parses an HTTP-date in any of the three RFC 7231 formats,
// normalized to UTC.
func ParseHTTPDate(s string) (time.Time, bool) {
	for _, layout := range []string{http.TimeFormat, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatHTTPDate renders an instant in the HTTP-date form used by
// If-Modified-Since request headers.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
