package redact_test

import (
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"ollama-claude-proxy/internal/redact"
)

func TestHeadersKeepsOnlyAllowlist(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Anthropic-Version", "2023-06-01")
	h.Set("X-Api-Key", "sk-ant-secret")
	h.Set("Authorization", "Bearer abc")
	h.Set("X-Custom", "value")

	got := redact.Headers(h)

	assert.Equal(t, "application/json", got["Content-Type"])
	assert.Equal(t, "2023-06-01", got["Anthropic-Version"])
	assert.Equal(t, redact.Placeholder, got["X-Api-Key"])
	assert.Equal(t, redact.Placeholder, got["Authorization"])
	assert.Equal(t, redact.Placeholder, got["X-Custom"])
}

func TestValueScrubsNestedSecrets(t *testing.T) {
	in := map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "authentication_error",
			"message": "invalid x-api-key",
		},
		"api_key": "sk-ant-123",
		"items":   []any{"fine", "bearer token here", 3.0},
	}

	got := redact.Value(in).(map[string]any)

	assert.Equal(t, "error", got["type"])
	assert.Equal(t, redact.Placeholder, got["api_key"])
	inner := got["error"].(map[string]any)
	assert.Equal(t, "authentication_error", inner["type"])
	assert.Equal(t, redact.SensitivePlaceholder, inner["message"])
	assert.Equal(t, []any{"fine", redact.SensitivePlaceholder, 3.0}, got["items"])

	assert.Equal(t, "sk-ant-123", in["api_key"], "input must not be mutated")
}

func TestTruncateAndKey(t *testing.T) {
	assert.Equal(t, "short", redact.Truncate("short", 200))
	long := strings.Repeat("x", 250)
	assert.Equal(t, strings.Repeat("x", 200)+"...", redact.Truncate(long, 200))

	assert.Equal(t, "sk-ant-a...", redact.Key("sk-ant-abcdef"))
	assert.Equal(t, "...", redact.Key("short"))
	assert.Equal(t, "", redact.Key(""))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	got := redact.Truncate("héllo wörld", 2)
	assert.Equal(t, "h...", got)
	assert.True(t, utf8.ValidString(got))

	got = redact.Truncate(strings.Repeat("日本", 10), 7)
	assert.Equal(t, "日本...", got)
	assert.True(t, utf8.ValidString(got))
}
