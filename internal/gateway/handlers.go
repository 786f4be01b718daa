package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"ollama-claude-proxy/internal/aliases"
	apierrors "ollama-claude-proxy/internal/errors"
	"ollama-claude-proxy/internal/models"
	"ollama-claude-proxy/internal/requestctx"
)

const livenessText = "Ollama is running"

func (s *Service) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.HandleNotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, livenessText)
}

func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, r, models.VersionResponse{Version: s.version}, "Internal server error")
}

func (s *Service) HandleTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	const failure = "Failed to retrieve models list"
	start := time.Now()
	var resp models.ListResponse
	if !s.try(w, r, failure, func() { resp = models.ListResponse{Models: s.ListModels()} }) {
		return
	}
	s.logger.Info("models list generated",
		"request_id", requestctx.RequestID(r.Context()),
		"models", len(resp.Models),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.writeJSON(w, r, resp, failure)
}

func (s *Service) HandleShow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	const failure = "Failed to retrieve model details"
	requestID := requestctx.RequestID(r.Context())
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	name, err := showName(body)
	if err != nil {
		s.logger.Warn("model details request rejected", "request_id", requestID, "error", err)
		apierrors.WriteError(w, err)
		return
	}

	var resp models.ShowResponse
	if !s.try(w, r, failure, func() { resp, err = s.DescribeModel(name) }) {
		return
	}
	if err != nil {
		s.logger.Warn("model details request rejected", "request_id", requestID, "error", err)
		apierrors.WriteError(w, err)
		return
	}
	s.logger.Info("model details generated",
		"request_id", requestID,
		"model", name,
		"tier", aliases.ClassifyTier(s.aliases.ResolveUpstream(name)).String(),
	)
	s.writeJSON(w, r, resp, failure)
}

// showName accepts "name" and, from newer Ollama clients, "model".
func showName(body []byte) (string, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", apierrors.InvalidRequest("Model name is required")
	}
	var req models.ShowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return "", apierrors.InvalidRequest("Model name is required")
		}
		return "", apierrors.InvalidRequest("Invalid JSON payload")
	}
	switch {
	case req.Name != nil && strings.TrimSpace(*req.Name) != "":
		return *req.Name, nil
	case req.Model != nil && strings.TrimSpace(*req.Model) != "":
		return *req.Model, nil
	default:
		return "", apierrors.InvalidRequest("Model name is required")
	}
}

func (s *Service) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	start := time.Now()
	requestID := requestctx.RequestID(r.Context())
	logger := s.logger.With("request_id", requestID)

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	in, err := s.DecodeChatRequest(body)
	if err != nil {
		logger.Warn("chat request rejected", "error", err)
		apierrors.WriteError(w, err)
		return
	}

	roles := make(map[string]int)
	contentChars := 0
	for _, m := range in.Messages {
		roles[m.Role]++
		contentChars += len(m.Content)
	}
	logger.Info("chat request received",
		"model", in.Model,
		"upstream_model", s.aliases.ResolveUpstream(in.Model),
		"messages", len(in.Messages),
		"roles", roles,
		"content_chars", contentChars,
	)
	if in.Stream {
		logger.Debug("streaming requested; replying with a single response")
	}

	resp, err := s.Chat(r.Context(), in)
	if err != nil {
		var apiErr *apierrors.Error
		upstreamStatus := 0
		if errors.As(err, &apiErr) {
			upstreamStatus = apiErr.Status
		}
		logger.Error("chat request failed",
			"kind", apierrors.KindOf(err).String(),
			"upstream_status", upstreamStatus,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		apierrors.WriteError(w, err)
		return
	}

	logger.Info("chat request completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"response_chars", len(resp.Message.Content),
		"prompt_tokens", resp.PromptEvalCount,
		"completion_tokens", resp.EvalCount,
	)
	s.writeJSON(w, r, resp, apierrors.PublicMessage(apierrors.KindInternal))
}

func (s *Service) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("path not found",
		"request_id", requestctx.RequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)
	apierrors.Write(w, http.StatusNotFound, "Endpoint not found")
}

func (s *Service) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.Write(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		apierrors.Write(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}

// try runs fn and turns a panic into a 500 with message.
func (s *Service) try(w http.ResponseWriter, r *http.Request, message string, fn func()) bool {
	var pc panics.Catcher
	pc.Try(fn)
	if rec := pc.Recovered(); rec != nil {
		s.logger.Error(message,
			"request_id", requestctx.RequestID(r.Context()),
			"panic", rec.Value,
			"stack", string(rec.Stack),
		)
		apierrors.Write(w, http.StatusInternalServerError, message)
		return false
	}
	return true
}

func (s *Service) writeJSON(w http.ResponseWriter, r *http.Request, v any, failure string) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err, "request_id", requestctx.RequestID(r.Context()))
		apierrors.Write(w, http.StatusInternalServerError, failure)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeMethodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	apierrors.Write(w, http.StatusMethodNotAllowed, "Method not allowed")
}
