package reply

import (
	"context"
	"errors"
	"strings"
)

// Roles accepted in conversation history
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// FallbackReply is returned when the upstream produced no usable text
const FallbackReply = "I'm listening."

// ErrUpstream wraps every failure talking to the reply backend
var ErrUpstream = errors.New("reply: upstream request failed")

// Message is one turn of a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces the assistant's next turn
type Generator interface {
	GenerateReply(ctx context.Context, history []Message, message string) (string, error)
}

// speakerPrefixes are stripped when a model echoes the transcript format
var speakerPrefixes = []string{"Assistant:", "AI:", "User:", "Human:"}

// Clean trims a generated reply and removes a leading speaker label
func Clean(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range speakerPrefixes {
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			text = strings.TrimSpace(text[len(prefix):])
			break
		}
	}
	if text == "" {
		return FallbackReply
	}
	return text
}

// TrimHistory keeps the last limit user and assistant turns with content
func TrimHistory(history []Message, limit int) []Message {
	kept := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, Message{Role: m.Role, Content: m.Content})
	}

	if limit >= 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}
