package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ollama-claude-proxy/internal/chat"
	apierrors "ollama-claude-proxy/internal/errors"
	"ollama-claude-proxy/internal/metrics"
	"ollama-claude-proxy/internal/redact"
	"ollama-claude-proxy/internal/requestctx"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultVersion = "2023-06-01"
	DefaultTimeout = 60 * time.Second

	messagesPath     = "/v1/messages"
	maxResponseBody  = 32 << 20
	errorBodyPreview = 200
	contentPreview   = 100
)

type Options struct {
	APIKey     string
	BaseURL    string
	Version    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Client calls the Anthropic Messages API. It is safe for concurrent use.
type Client struct {
	client   *http.Client
	endpoint string
	headers  http.Header
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("upstream: api key required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(opts.Version) == "" {
		opts.Version = DefaultVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		opts.HTTPClient = &http.Client{Transport: transport, Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	endpoint, err := buildEndpoint(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("x-api-key", opts.APIKey)
	headers.Set("anthropic-version", opts.Version)
	headers.Set("Content-Type", "application/json")

	c := &Client{
		client:   opts.HTTPClient,
		endpoint: endpoint,
		headers:  headers,
		logger:   opts.Logger.With("component", "upstream"),
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	c.logger.Info("anthropic client initialized",
		"endpoint", endpoint,
		"version", opts.Version,
		"timeout", opts.Timeout.String(),
		"api_key", redact.Key(opts.APIKey),
	)
	return c, nil
}

func buildEndpoint(apiBase string) (string, error) {
	base, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("base url is invalid: %s", apiBase)
	}
	base.Path = strings.TrimRight(base.Path, "/") + messagesPath
	return base.String(), nil
}

type messagesRequest struct {
	Model       string         `json:"model"`
	Messages    []chat.Message `json:"messages"`
	Temperature float64        `json:"temperature"`
	TopP        float64        `json:"top_p"`
	MaxTokens   int            `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *usage         `json:"usage"`
}

type contentBlock struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func buildRequest(conv chat.Conversation, opts chat.Options, model string) messagesRequest {
	messages := conv.Messages
	if messages == nil {
		messages = []chat.Message{}
	}
	return messagesRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.EffectiveMaxTokens(),
		System:      conv.System,
	}
}

// Chat makes exactly one call to the Messages API. Failures come back as
// *apierrors.Error with one of the upstream kinds.
func (c *Client) Chat(ctx context.Context, conv chat.Conversation, opts chat.Options, model string) (chat.Result, error) {
	start := c.now()
	logger := c.logger.With("request_id", requestctx.RequestID(ctx), "model", model)
	logger.Info("sending chat request",
		"messages", len(conv.Messages),
		"has_system", conv.System != "",
		"temperature", opts.Temperature,
		"top_p", opts.TopP,
		"max_tokens", opts.EffectiveMaxTokens(),
	)

	payload := buildRequest(conv, opts, model)
	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.DebugContext(ctx, "request payload preview", "payload", previewPayload(payload))
	}

	result, err := c.do(ctx, logger, payload)
	elapsed := c.now().Sub(start)
	if err != nil {
		kind := apierrors.KindOf(err)
		c.metrics.ObserveUpstream(model, kind.String(), elapsed.Seconds(), 0, 0)
		logger.Error("chat request failed", "kind", kind.String(), "error", err, "duration_ms", elapsed.Milliseconds())
		return chat.Result{}, err
	}

	c.metrics.ObserveUpstream(model, metrics.OutcomeOK, elapsed.Seconds(), result.PromptTokens, result.CompletionTokens)
	logger.Info("chat request completed",
		"duration_ms", elapsed.Milliseconds(),
		"input_tokens", result.PromptTokens,
		"output_tokens", result.CompletionTokens,
		"response_chars", len(result.Content),
	)
	return result, nil
}

func (c *Client) do(ctx context.Context, logger *slog.Logger, payload messagesRequest) (chat.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return chat.Result{}, apierrors.Wrap(apierrors.KindInternal, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return chat.Result{}, apierrors.Wrap(apierrors.KindInternal, fmt.Errorf("build request: %w", err))
	}
	for k, values := range c.headers {
		req.Header[k] = values
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return chat.Result{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	logger.Debug("response received", "status", resp.StatusCode, "headers", redact.Headers(resp.Header))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return chat.Result{}, classifyTransportError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logErrorBody(logger, resp.StatusCode, respBody)
		return chat.Result{}, &apierrors.Error{
			Kind:   apierrors.KindUpstreamHTTP,
			Status: resp.StatusCode,
		}
	}

	result, err := c.parse(respBody, payload.Model)
	if err != nil {
		var fields map[string]any
		if json.Unmarshal(respBody, &fields) == nil {
			logger.Warn("unexpected response shape", "fields", redact.Keys(fields))
		}
		return chat.Result{}, err
	}
	return result, nil
}

func (c *Client) parse(body []byte, model string) (chat.Result, error) {
	var decoded messagesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return chat.Result{}, apierrors.Wrap(apierrors.KindUpstreamMalformed, fmt.Errorf("decode response: %w", err))
	}

	text := ""
	if len(decoded.Content) > 0 {
		if decoded.Content[0].Text == nil {
			return chat.Result{}, &apierrors.Error{
				Kind:    apierrors.KindUpstreamMalformed,
				Message: "first content block has no text",
			}
		}
		text = *decoded.Content[0].Text
	}

	result := chat.Result{
		Content:    text,
		Model:      model,
		CreatedAt:  c.now().UTC(),
		StopReason: decoded.StopReason,
	}
	if decoded.Usage != nil {
		result.PromptTokens = decoded.Usage.InputTokens
		result.CompletionTokens = decoded.Usage.OutputTokens
	}
	return result, nil
}

func (c *Client) logErrorBody(logger *slog.Logger, status int, body []byte) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		logger.Error("anthropic api returned an error", "status", status, "details", redact.Value(decoded))
		return
	}
	logger.Error("anthropic api returned an error", "status", status, "body", redact.Truncate(string(body), errorBodyPreview))
}

func classifyTransportError(err error) *apierrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.Wrap(apierrors.KindUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierrors.Wrap(apierrors.KindUpstreamTimeout, err)
	}
	return apierrors.Wrap(apierrors.KindUpstreamTransport, err)
}

func previewPayload(p messagesRequest) map[string]any {
	messages := make([]map[string]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		messages = append(messages, map[string]string{
			"role":    m.Role,
			"content": redact.Truncate(m.Content, contentPreview),
		})
	}
	out := map[string]any{
		"model":       p.Model,
		"messages":    messages,
		"temperature": p.Temperature,
		"top_p":       p.TopP,
		"max_tokens":  p.MaxTokens,
	}
	if p.System != "" {
		out["system"] = redact.Truncate(p.System, contentPreview)
	}
	return out
}
