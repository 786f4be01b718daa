// Package models holds the Ollama API request and response shapes the
// proxy speaks to its clients.
package models

import (
	"encoding/json"
	"time"
)

// TimeFormat matches the timestamps Ollama itself emits.
const TimeFormat = time.RFC3339Nano

type ListResponse struct {
	Models []ModelListing `json:"models"`
}

type ModelListing struct {
	Name       string  `json:"name"`
	Model      string  `json:"model"`
	ModifiedAt string  `json:"modified_at"`
	Size       int64   `json:"size"`
	Digest     string  `json:"digest"`
	Details    Details `json:"details"`
}

type Details struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

type ShowRequest struct {
	Name  *string `json:"name"`
	Model *string `json:"model"`
}

type ShowResponse struct {
	License    string         `json:"license"`
	System     string         `json:"system"`
	Details    Details        `json:"details"`
	ModelInfo  map[string]any `json:"model_info"`
	ModifiedAt string         `json:"modified_at"`
}

// ChatRequest keeps messages and options raw so their shape can be checked
// before decoding.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages json.RawMessage `json:"messages"`
	Options  json.RawMessage `json:"options"`
	Stream   *bool           `json:"stream,omitempty"`
}

type ChatMessage struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

type ChatOptions struct {
	Temperature *float64 `json:"temperature"`
	TopP        *float64 `json:"top_p"`
	MaxTokens   *float64 `json:"max_tokens"`
	NumPredict  *float64 `json:"num_predict"`
}

type ChatResponse struct {
	Model              string          `json:"model"`
	CreatedAt          string          `json:"created_at"`
	Message            ResponseMessage `json:"message"`
	Done               bool            `json:"done"`
	DoneReason         string          `json:"done_reason,omitempty"`
	TotalDuration      int64           `json:"total_duration"`
	LoadDuration       int64           `json:"load_duration"`
	PromptEvalCount    int             `json:"prompt_eval_count"`
	PromptEvalDuration int64           `json:"prompt_eval_duration"`
	EvalCount          int             `json:"eval_count"`
	EvalDuration       int64           `json:"eval_duration"`
}

type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type VersionResponse struct {
	Version string `json:"version"`
}
