package agent

import (
	"fmt"

	"github.com/jkaninda/tubechat/internal/llm"
)

// ChatMessage is a plain-text conversation turn as it is persisted and replayed.
type ChatMessage struct {
	Role    llm.Role
	Content string
}

// ToMap renders the message as a {role, content} mapping.
func (m ChatMessage) ToMap() map[string]any {
	return map[string]any{
		"role":    string(m.Role),
		"content": m.Content,
	}
}

// Message converts to the provider-agnostic form.
func (m ChatMessage) Message() llm.Message {
	return llm.Message{Role: m.Role, Content: m.Content}
}

// ChatMessageFromMap parses the mapping produced by ToMap.
func ChatMessageFromMap(v map[string]any) (ChatMessage, error) {
	role, _ := v["role"].(string)
	content, ok := v["content"].(string)
	if !ok {
		return ChatMessage{}, fmt.Errorf("chat message: content must be a string")
	}
	switch llm.Role(role) {
	case llm.RoleUser, llm.RoleAssistant:
	default:
		return ChatMessage{}, fmt.Errorf("chat message: unknown role %q", role)
	}
	return ChatMessage{Role: llm.Role(role), Content: content}, nil
}

// History converts persisted turns to the message sequence sent to the model.
func History(msgs []ChatMessage) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Message()
	}
	return out
}
