// Package llm streams chat completions from OpenAI-compatible endpoints.
package llm

import "context"

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TokenEvent represents an incremental token from the model.
// If Err is non-nil, the stream ended with an error; Done marks a clean end.
type TokenEvent struct {
	Delta string
	Err   error
	Done  bool
}

// Message is a minimal chat message shape.
type Message struct {
	Role    string // system | user | assistant
	Content string
}

// Provider defines a streaming chat-completion interface.
type Provider interface {
	// StreamChat yields TokenEvents on the returned channel, which is closed
	// when streaming ends. Implementations stop when ctx is done.
	StreamChat(ctx context.Context, messages []Message) (<-chan TokenEvent, error)
}

// Conversation builds the message list for a single user turn
func Conversation(systemPrompt, userText string) []Message {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(messages, Message{Role: RoleUser, Content: userText})
}
