// Package llm provides an abstraction for OpenAI-compatible chat models.
package llm

import "context"

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Delta is one streamed increment. Reasoning and Content are delivered separately.
type Delta struct {
	Reasoning string
	Content   string
}

// StreamCallback is called for each non-empty delta, in arrival order.
type StreamCallback func(d Delta) error

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMClient defines the operations the agent needs from a model backend.
type LLMClient interface {
	// Complete returns the full assistant content for messages using the chat model.
	Complete(ctx context.Context, messages []Message, temperature float64) (string, error)

	// CompleteStream streams the answer. enableThinking selects the reasoner model.
	CompleteStream(ctx context.Context, messages []Message, temperature float64, enableThinking bool, callback StreamCallback) (*Usage, error)
}

// Ensure Client implements LLMClient interface.
var _ LLMClient = (*Client)(nil)
