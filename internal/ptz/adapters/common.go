package adapters

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

const MaxBodySnippet = 512

// Snippet trims a response body for logs and error context. The cut never
// splits a UTF-8 sequence.
func Snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= MaxBodySnippet {
		return s
	}
	cut := MaxBodySnippet
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// RedactURL strips user info and secret-looking query params so URLs are safe to log.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	q := u.Query()
	for k := range q {
		kl := strings.ToLower(k)
		if strings.Contains(kl, "token") || strings.Contains(kl, "pass") || strings.Contains(kl, "auth") || strings.Contains(kl, "secret") {
			q.Set(k, "[REDACTED]")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ClampFloat bounds v to [lo, hi].
func ClampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
