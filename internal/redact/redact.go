// Package redact scrubs secrets out of headers and payloads before they are
// logged. Nothing it returns is ever sent to clients.
package redact

import (
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	Placeholder          = "[REDACTED]"
	SensitivePlaceholder = "[REDACTED - potentially sensitive content]"
)

var safeHeaders = map[string]struct{}{
	"content-type":      {},
	"content-length":    {},
	"user-agent":        {},
	"accept":            {},
	"accept-encoding":   {},
	"accept-language":   {},
	"cache-control":     {},
	"connection":        {},
	"host":              {},
	"referer":           {},
	"anthropic-version": {},
}

var sensitivePatterns = []string{
	"api-key",
	"api_key",
	"anthropic_api_key",
	"x-api-key",
	"authorization",
	"token",
}

// Headers flattens h for logging. Only allowlisted headers keep their values.
func Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if _, ok := safeHeaders[strings.ToLower(key)]; ok {
			out[key] = strings.Join(values, ", ")
			continue
		}
		out[key] = Placeholder
	}
	return out
}

// Value walks decoded JSON and replaces anything that looks like a credential.
func Value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, val := range t {
			if isSensitive(key) {
				out[key] = Placeholder
				continue
			}
			out[key] = Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Value(val)
		}
		return out
	case string:
		if isSensitive(t) {
			return SensitivePlaceholder
		}
		return t
	default:
		return v
	}
}

// Truncate cuts s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// Key keeps a short prefix of a secret, enough to tell keys apart in logs.
func Key(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "..."
	}
	return secret[:8] + "..."
}

// Keys lists the keys of a JSON object in stable order.
func Keys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isSensitive(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range sensitivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
