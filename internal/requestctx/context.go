package requestctx

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

// Key is the typed context key used for storing the request ID.
var Key contextKey = "ollama-claude-proxy/request-id"

// Header carries the request ID in and out of the proxy.
const Header = "x-request-id"

// WithRequestID embeds the request ID into the parent context.
func WithRequestID(parent context.Context, requestID string) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, requestID)
}

// RequestID returns the request ID, or "" outside a request.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(Key).(string); ok {
		return id
	}
	return ""
}

func NewRequestID() string {
	return "req-" + uuid.NewString()
}
