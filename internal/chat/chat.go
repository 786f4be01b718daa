package chat

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 4096
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	Temperature float64
	TopP        float64
	// MaxTokens of zero means unset.
	MaxTokens int
}

func DefaultOptions() Options {
	return Options{Temperature: DefaultTemperature, TopP: DefaultTopP}
}

// EffectiveMaxTokens is the cap sent upstream, which always requires one.
func (o Options) EffectiveMaxTokens() int {
	if o.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return o.MaxTokens
}

// Conversation is a message list split the way the upstream API wants it:
// a single system prompt and the remaining turns in order.
type Conversation struct {
	System   string
	Messages []Message
}

// Normalize keeps the first system message as the system prompt and drops
// any later ones. All other messages keep their relative order.
func Normalize(messages []Message) Conversation {
	conv := Conversation{Messages: make([]Message, 0, len(messages))}
	seenSystem := false
	for _, m := range messages {
		if m.Role == RoleSystem {
			if !seenSystem {
				conv.System = m.Content
				seenSystem = true
			}
			continue
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv
}

type Result struct {
	Content          string
	Model            string
	CreatedAt        time.Time
	PromptTokens     int
	CompletionTokens int
	StopReason       string
}
