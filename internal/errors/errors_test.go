package apierrors_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "ollama-claude-proxy/internal/errors"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apierrors.Kind
		want int
	}{
		{apierrors.KindInvalidRequest, http.StatusBadRequest},
		{apierrors.KindUpstreamTimeout, http.StatusGatewayTimeout},
		{apierrors.KindUpstreamHTTP, http.StatusBadGateway},
		{apierrors.KindUpstreamTransport, http.StatusBadGateway},
		{apierrors.KindUpstreamMalformed, http.StatusInternalServerError},
		{apierrors.KindInternal, http.StatusInternalServerError},
		{apierrors.Kind(99), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, apierrors.StatusFor(tt.kind))
		})
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := apierrors.Wrap(apierrors.KindUpstreamTimeout, context.DeadlineExceeded)
	wrapped := fmt.Errorf("chat: %w", base)

	assert.Equal(t, apierrors.KindUpstreamTimeout, apierrors.KindOf(wrapped))
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.Equal(t, apierrors.KindInternal, apierrors.KindOf(fmt.Errorf("boom")))
}

func TestClientMessageHidesUpstreamDetail(t *testing.T) {
	err := &apierrors.Error{
		Kind:    apierrors.KindUpstreamHTTP,
		Status:  http.StatusUnauthorized,
		Message: "invalid x-api-key sk-ant-secret",
	}

	assert.Equal(t, "Claude API returned an error", apierrors.ClientMessage(err))
	assert.Contains(t, err.Error(), "status 401")

	invalid := apierrors.InvalidRequest("Model name is required")
	assert.Equal(t, "Model name is required", apierrors.ClientMessage(invalid))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	apierrors.WriteError(rec, apierrors.Wrap(apierrors.KindUpstreamTimeout, context.DeadlineExceeded))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload apierrors.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Request timeout - the Claude API took too long to respond", payload.Error)
	assert.NotContains(t, rec.Body.String(), "deadline")
}
