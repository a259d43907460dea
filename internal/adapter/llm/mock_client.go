package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// MockClient answers deterministically without a network, for offline runs.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements LLMClient interface.
var _ LLMClient = (*MockClient)(nil)

// Complete returns a canned response shaped after the request's system prompt.
func (m *MockClient) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.generateMockResponse(messages), nil
}

// CompleteStream simulates a streaming response in small chunks.
func (m *MockClient) CompleteStream(ctx context.Context, messages []Message, temperature float64, enableThinking bool, callback StreamCallback) (*Usage, error) {
	if enableThinking {
		if err := callback(Delta{Reasoning: "[MOCK] Thinking about the question."}); err != nil {
			return nil, err
		}
	}

	content := m.generateMockResponse(messages)
	for _, chunk := range splitIntoChunks(content, 16) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := callback(Delta{Content: chunk}); err != nil {
			return nil, err
		}
	}

	prompt := 0
	for _, msg := range messages {
		prompt += len(msg.Content) / 4
	}
	return &Usage{PromptTokens: prompt, CompletionTokens: len(content) / 4, TotalTokens: prompt + len(content)/4}, nil
}

func (m *MockClient) generateMockResponse(messages []Message) string {
	var system, lastUser string
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = msg.Content
		case RoleUser:
			lastUser = msg.Content
		}
	}

	switch {
	case strings.Contains(system, `"intent"`):
		return mockIntent(lastUser)
	case strings.Contains(system, `"viz_config"`):
		b, _ := json.Marshal(map[string]any{
			"sql":           "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name",
			"chart_type":    "table",
			"reasoning":     "[MOCK] Listing tables.",
			"session_title": "Mock session",
		})
		return string(b)
	case strings.Contains(system, "ECharts"):
		return `{"title": {"text": "Mock chart"}, "series": []}`
	}

	if lastUser == "" {
		return "[MOCK] This is a mock response from the LLM client."
	}
	return "[MOCK] Received your message: " + truncate(lastUser, 100)
}

func mockIntent(question string) string {
	q := strings.ToLower(question)
	intent := "chat"
	switch {
	case strings.HasPrefix(q, "yes") || strings.HasPrefix(q, "ok") || strings.Contains(q, "go ahead"):
		intent = "confirmation"
	case strings.Contains(q, "how many") || strings.Contains(q, "list") || strings.Contains(q, "show") || strings.Contains(q, "top") || strings.Contains(q, "analy"):
		intent = "sql_query"
	}
	return `{"intent": "` + intent + `"}`
}

// splitIntoChunks splits a string into chunks of at most size runes.
func splitIntoChunks(s string, size int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return []string{""}
	}
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
