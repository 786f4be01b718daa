package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"ollama-claude-proxy/internal/aliases"
	"ollama-claude-proxy/internal/chat"
	apierrors "ollama-claude-proxy/internal/errors"
	"ollama-claude-proxy/internal/models"
)

const (
	DefaultModel = "claude-sonnet"
	// ReportedVersion is what /api/version claims, so Ollama clients that
	// gate features on the server version keep working.
	ReportedVersion = "0.9.0"

	modelFamily       = "claude"
	modelFormat       = "gguf"
	quantizationLevel = "Q4_K_M"
	modelLicense      = "Anthropic Research License"
	contextLength     = 200000
	fileType          = 15
	digestPrefix      = "anthropic-"
)

// Chatter is the upstream half of a chat request.
type Chatter interface {
	Chat(ctx context.Context, conv chat.Conversation, opts chat.Options, model string) (chat.Result, error)
}

type Options struct {
	Aliases      *aliases.Table
	Upstream     Chatter
	DefaultModel string
	Version      string
	Logger       *slog.Logger
	Now          func() time.Time
}

type Service struct {
	aliases      *aliases.Table
	upstream     Chatter
	defaultModel string
	version      string
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(opts Options) *Service {
	if opts.Aliases == nil {
		opts.Aliases = aliases.Default()
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		opts.DefaultModel = DefaultModel
	}
	if strings.TrimSpace(opts.Version) == "" {
		opts.Version = ReportedVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		aliases:      opts.Aliases,
		upstream:     opts.Upstream,
		defaultModel: opts.DefaultModel,
		version:      opts.Version,
		logger:       opts.Logger.With("component", "api"),
		now:          opts.Now,
	}
}

// ListModels synthesizes one Ollama listing entry per alias, in table order.
func (s *Service) ListModels() []models.ModelListing {
	modified := s.now().UTC().Format(models.TimeFormat)
	list := s.aliases.List()
	out := make([]models.ModelListing, 0, len(list))
	for _, a := range list {
		tier := aliases.ClassifyTier(a.Upstream)
		out = append(out, models.ModelListing{
			Name:       a.Inbound,
			Model:      a.Inbound,
			ModifiedAt: modified,
			Size:       tier.ParameterCount(),
			Digest:     digestPrefix + a.Upstream,
			Details:    details(tier),
		})
	}
	return out
}

// DescribeModel never calls upstream; everything is derived from the tier.
func (s *Service) DescribeModel(name string) (models.ShowResponse, error) {
	if strings.TrimSpace(name) == "" {
		return models.ShowResponse{}, apierrors.InvalidRequest("Model name is required")
	}

	upstreamModel := s.aliases.ResolveUpstream(name)
	tier := aliases.ClassifyTier(upstreamModel)
	return models.ShowResponse{
		License: modelLicense,
		System:  tier.Description(),
		Details: details(tier),
		ModelInfo: map[string]any{
			"general.architecture":    modelFamily,
			"general.file_type":       fileType,
			"general.context_length":  contextLength,
			"general.parameter_count": tier.ParameterCount(),
		},
		ModifiedAt: s.now().UTC().Format(models.TimeFormat),
	}, nil
}

func details(tier aliases.Tier) models.Details {
	return models.Details{
		ParentModel:       "",
		Format:            modelFormat,
		Family:            modelFamily,
		Families:          []string{modelFamily},
		ParameterSize:     tier.ParameterSize(),
		QuantizationLevel: quantizationLevel,
	}
}

// ChatInput is a chat request that has passed boundary validation.
type ChatInput struct {
	Model    string
	Messages []chat.Message
	Options  chat.Options
	Stream   bool
}

// DecodeChatRequest validates an /api/chat body and applies defaults.
func (s *Service) DecodeChatRequest(body []byte) (ChatInput, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || isNull(trimmed) {
		return ChatInput{}, apierrors.InvalidRequest("Request body is required")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return ChatInput{}, apierrors.InvalidRequest("Invalid JSON payload")
	}
	if len(probe) == 0 {
		return ChatInput{}, apierrors.InvalidRequest("Request body is required")
	}

	var req models.ChatRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return ChatInput{}, apierrors.InvalidRequest("Invalid JSON payload")
	}

	in := ChatInput{
		Model:   req.Model,
		Options: chat.DefaultOptions(),
	}
	if strings.TrimSpace(in.Model) == "" {
		in.Model = s.defaultModel
	}
	if req.Stream != nil {
		in.Stream = *req.Stream
	}

	messages, err := decodeMessages(req.Messages)
	if err != nil {
		return ChatInput{}, err
	}
	in.Messages = messages

	if !isAbsent(req.Options) {
		var raw models.ChatOptions
		if err := json.Unmarshal(req.Options, &raw); err != nil || !applyOptions(&in.Options, raw) {
			return ChatInput{}, apierrors.InvalidRequest("Invalid chat options")
		}
	}
	return in, nil
}

func decodeMessages(raw json.RawMessage) ([]chat.Message, error) {
	if isAbsent(raw) {
		return []chat.Message{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, apierrors.InvalidRequest("Messages must be an array")
	}

	out := make([]chat.Message, 0, len(items))
	for _, item := range items {
		var m models.ChatMessage
		if err := json.Unmarshal(item, &m); err != nil || isNull(item) {
			return nil, apierrors.InvalidRequest("Each message must be an object with string role and content")
		}
		msg := chat.Message{Role: chat.RoleUser}
		if m.Role != nil && strings.TrimSpace(*m.Role) != "" {
			msg.Role = *m.Role
		}
		if m.Content != nil {
			msg.Content = *m.Content
		}
		out = append(out, msg)
	}
	return out, nil
}

// applyOptions reports false when a token count is not a whole number.
func applyOptions(opts *chat.Options, raw models.ChatOptions) bool {
	if raw.Temperature != nil {
		opts.Temperature = *raw.Temperature
	}
	if raw.TopP != nil {
		opts.TopP = *raw.TopP
	}
	switch {
	case raw.MaxTokens != nil:
		n, ok := wholeNumber(*raw.MaxTokens)
		if !ok {
			return false
		}
		opts.MaxTokens = n
	case raw.NumPredict != nil:
		n, ok := wholeNumber(*raw.NumPredict)
		if !ok {
			return false
		}
		if n > 0 {
			opts.MaxTokens = n
		}
	}
	return true
}

// wholeNumber accepts 1024, 1024.0 and 1e3 alike.
func wholeNumber(v float64) (int, bool) {
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

// Chat forwards in to upstream under the resolved model id. The response
// always names the model the client asked for.
func (s *Service) Chat(ctx context.Context, in ChatInput) (models.ChatResponse, error) {
	if s.upstream == nil {
		return models.ChatResponse{}, apierrors.New(apierrors.KindInternal, "no upstream configured")
	}
	conv := chat.Normalize(in.Messages)
	upstreamModel := s.aliases.ResolveUpstream(in.Model)

	result, err := s.upstream.Chat(ctx, conv, in.Options, upstreamModel)
	if err != nil {
		return models.ChatResponse{}, err
	}

	return models.ChatResponse{
		Model:     in.Model,
		CreatedAt: result.CreatedAt.UTC().Format(models.TimeFormat),
		Message: models.ResponseMessage{
			Role:    chat.RoleAssistant,
			Content: result.Content,
		},
		Done:            true,
		DoneReason:      doneReason(result.StopReason),
		PromptEvalCount: result.PromptTokens,
		EvalCount:       result.CompletionTokens,
	}, nil
}

func doneReason(stopReason string) string {
	if stopReason == "max_tokens" {
		return "length"
	}
	return "stop"
}

func isAbsent(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || isNull(raw)
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
