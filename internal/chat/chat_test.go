package chat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ollama-claude-proxy/internal/chat"
)

func TestNormalizeSplitsSystemPrompt(t *testing.T) {
	conv := chat.Normalize([]chat.Message{
		{Role: chat.RoleSystem, Content: "S"},
		{Role: chat.RoleUser, Content: "U1"},
		{Role: chat.RoleAssistant, Content: "A1"},
		{Role: chat.RoleUser, Content: "U2"},
	})

	assert.Equal(t, "S", conv.System)
	assert.Equal(t, []chat.Message{
		{Role: chat.RoleUser, Content: "U1"},
		{Role: chat.RoleAssistant, Content: "A1"},
		{Role: chat.RoleUser, Content: "U2"},
	}, conv.Messages)
}

func TestNormalizeKeepsOnlyFirstSystemMessage(t *testing.T) {
	conv := chat.Normalize([]chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleSystem, Content: "first"},
		{Role: chat.RoleSystem, Content: "second"},
	})

	assert.Equal(t, "first", conv.System)
	assert.Equal(t, []chat.Message{{Role: chat.RoleUser, Content: "hi"}}, conv.Messages)
}

func TestNormalizeWithoutSystem(t *testing.T) {
	conv := chat.Normalize(nil)

	assert.Empty(t, conv.System)
	assert.NotNil(t, conv.Messages)
	assert.Empty(t, conv.Messages)
}

func TestEffectiveMaxTokens(t *testing.T) {
	assert.Equal(t, 4096, chat.Options{}.EffectiveMaxTokens())
	assert.Equal(t, 4096, chat.Options{MaxTokens: -1}.EffectiveMaxTokens())
	assert.Equal(t, 512, chat.Options{MaxTokens: 512}.EffectiveMaxTokens())

	opts := chat.DefaultOptions()
	assert.InDelta(t, 0.7, opts.Temperature, 1e-9)
	assert.InDelta(t, 0.9, opts.TopP, 1e-9)
}
