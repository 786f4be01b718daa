package upstream_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-claude-proxy/internal/chat"
	apierrors "ollama-claude-proxy/internal/errors"
	"ollama-claude-proxy/internal/metrics"
	"ollama-claude-proxy/internal/upstream"
)

func newClient(t *testing.T, baseURL string, opts ...func(*upstream.Options)) *upstream.Client {
	t.Helper()
	o := upstream.Options{
		APIKey:  "sk-ant-test-key",
		BaseURL: baseURL,
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, fn := range opts {
		fn(&o)
	}
	client, err := upstream.New(o)
	require.NoError(t, err)
	return client
}

func TestChatBuildsMessagesRequest(t *testing.T) {
	var captured map[string]any
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hello there"}],"stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":3}}`))
	}))
	defer upstreamSrv.Close()

	fixed := time.Date(2025, 5, 14, 10, 0, 0, 0, time.UTC)
	client := newClient(t, upstreamSrv.URL, func(o *upstream.Options) {
		o.Now = func() time.Time { return fixed }
	})

	conv := chat.Normalize([]chat.Message{
		{Role: chat.RoleSystem, Content: "S"},
		{Role: chat.RoleUser, Content: "U1"},
		{Role: chat.RoleAssistant, Content: "A1"},
		{Role: chat.RoleUser, Content: "U2"},
	})
	result, err := client.Chat(context.Background(), conv, chat.DefaultOptions(), "claude-4-sonnet-20250514")
	require.NoError(t, err)

	assert.Equal(t, "claude-4-sonnet-20250514", captured["model"])
	assert.Equal(t, "S", captured["system"])
	assert.Equal(t, []any{
		map[string]any{"role": "user", "content": "U1"},
		map[string]any{"role": "assistant", "content": "A1"},
		map[string]any{"role": "user", "content": "U2"},
	}, captured["messages"])
	assert.InDelta(t, 0.7, captured["temperature"], 1e-9)
	assert.InDelta(t, 0.9, captured["top_p"], 1e-9)
	assert.InDelta(t, 4096, captured["max_tokens"], 0)

	assert.Equal(t, "hello there", result.Content)
	assert.Equal(t, "claude-4-sonnet-20250514", result.Model)
	assert.Equal(t, fixed, result.CreatedAt)
	assert.Equal(t, 12, result.PromptTokens)
	assert.Equal(t, 3, result.CompletionTokens)
	assert.Equal(t, "end_turn", result.StopReason)
}

func TestChatOmitsEmptySystem(t *testing.T) {
	var raw []byte
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer upstreamSrv.Close()

	client := newClient(t, upstreamSrv.URL)
	conv := chat.Normalize([]chat.Message{{Role: chat.RoleUser, Content: "hi"}})
	result, err := client.Chat(context.Background(), conv, chat.Options{Temperature: 0.2, TopP: 1, MaxTokens: 256}, "claude-x")
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	_, hasSystem := payload["system"]
	assert.False(t, hasSystem, "system must be omitted when empty: %s", raw)
	assert.InDelta(t, 256, payload["max_tokens"], 0)
	assert.Equal(t, 0, result.PromptTokens)
	assert.Equal(t, 0, result.CompletionTokens)
}

func TestChatEmptyContentIsNotAnError(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"usage":{"input_tokens":5,"output_tokens":0}}`))
	}))
	defer upstreamSrv.Close()

	result, err := newClient(t, upstreamSrv.URL).Chat(context.Background(), chat.Conversation{}, chat.DefaultOptions(), "m")
	require.NoError(t, err)
	assert.Equal(t, "", result.Content)
	assert.Equal(t, 5, result.PromptTokens)
}

func TestChatClassifiesFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   apierrors.Kind
		wantStatus int
	}{
		{
			name: "http error with json body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
			},
			wantKind:   apierrors.KindUpstreamHTTP,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "http error with text body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(strings.Repeat("overloaded ", 50)))
			},
			wantKind:   apierrors.KindUpstreamHTTP,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			wantKind: apierrors.KindUpstreamMalformed,
		},
		{
			name: "content is not an array",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"content":"text","usage":{}}`))
			},
			wantKind: apierrors.KindUpstreamMalformed,
		},
		{
			name: "first block without text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"content":[{"type":"tool_use","id":"t1"}],"usage":{}}`))
			},
			wantKind: apierrors.KindUpstreamMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstreamSrv := httptest.NewServer(tt.handler)
			defer upstreamSrv.Close()

			_, err := newClient(t, upstreamSrv.URL).Chat(context.Background(), chat.Conversation{}, chat.DefaultOptions(), "m")
			require.Error(t, err)

			var apiErr *apierrors.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, tt.wantStatus, apiErr.Status)
		})
	}
}

func TestChatTimeout(t *testing.T) {
	release := make(chan struct{})
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstreamSrv.Close()
	defer close(release)

	client := newClient(t, upstreamSrv.URL, func(o *upstream.Options) {
		o.Timeout = 50 * time.Millisecond
	})

	_, err := client.Chat(context.Background(), chat.Conversation{}, chat.DefaultOptions(), "m")
	require.Error(t, err)
	assert.Equal(t, apierrors.KindUpstreamTimeout, apierrors.KindOf(err))
}

func TestChatTransportError(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := upstreamSrv.URL
	upstreamSrv.Close()

	_, err := newClient(t, baseURL).Chat(context.Background(), chat.Conversation{}, chat.DefaultOptions(), "m")
	require.Error(t, err)
	assert.Equal(t, apierrors.KindUpstreamTransport, apierrors.KindOf(err))
}

func TestChatLogsRedactedErrorBody(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad"},"api_key":"sk-ant-leaked"}`))
	}))
	defer upstreamSrv.Close()

	var logs bytes.Buffer
	client := newClient(t, upstreamSrv.URL, func(o *upstream.Options) {
		o.Logger = slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})

	_, err := client.Chat(context.Background(), chat.Conversation{}, chat.DefaultOptions(), "m")
	require.Error(t, err)
	assert.NotContains(t, logs.String(), "sk-ant-leaked")
	assert.NotContains(t, logs.String(), "sk-ant-test-key")
	assert.Contains(t, logs.String(), "[REDACTED]")
}

func TestChatRecordsMetrics(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":7,"output_tokens":2}}`))
	}))
	defer upstreamSrv.Close()

	m := metrics.New("claude-m")
	client := newClient(t, upstreamSrv.URL, func(o *upstream.Options) { o.Metrics = m })

	_, err := client.Chat(context.Background(), chat.Conversation{}, chat.DefaultOptions(), "claude-m")
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("claude-m", metrics.OutcomeOK)), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.UpstreamTokens.WithLabelValues("claude-m", metrics.DirectionInput)), 0)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := upstream.New(upstream.Options{})
	require.Error(t, err)

	_, err = upstream.New(upstream.Options{APIKey: "k", BaseURL: "::not a url"})
	require.Error(t, err)
}
