package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/sqlagent/internal/metrics"
)

// Config configures an OpenAI-compatible backend.
type Config struct {
	BaseURL       string
	APIKey        string
	ChatModel     string
	ReasonerModel string
	Timeout       time.Duration
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL       string
	apiKey        string
	chatModel     string
	reasonerModel string
	httpClient    *http.Client
}

// NewClient creates a new client.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		chatModel:     cfg.ChatModel,
		reasonerModel: cfg.ReasonerModel,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ChatCompletionRequest represents the OpenAI chat completion request.
type ChatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions asks the server to append a usage chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatCompletionResponse represents the OpenAI chat completion response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int          `json:"index"`
	Message      *ChoiceDelta `json:"message,omitempty"`
	Delta        *ChoiceDelta `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// ChoiceDelta carries content and, for reasoning models, reasoning_content.
type ChoiceDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// StreamChunk represents a single SSE chunk from the stream.
type StreamChunk struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError represents the error details.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Complete sends a non-streaming request to the chat model.
func (c *Client) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	req := &ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: &temperature,
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues("complete", "error").Inc()
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	metrics.LLMCallsTotal.WithLabelValues("complete", "ok").Inc()
	logUsage(req.Model, result.Usage)

	if len(result.Choices) == 0 || result.Choices[0].Message == nil {
		return "", nil
	}
	return result.Choices[0].Message.Content, nil
}

// CompleteStream sends a streaming request and reports reasoning and content deltas.
// Malformed chunks are skipped; a non-2xx status fails before any delta is delivered.
func (c *Client) CompleteStream(ctx context.Context, messages []Message, temperature float64, enableThinking bool, callback StreamCallback) (*Usage, error) {
	model := c.chatModel
	if enableThinking {
		model = c.reasonerModel
	}
	req := &ChatCompletionRequest{
		Model:         model,
		Messages:      messages,
		Temperature:   &temperature,
		Stream:        true,
		StreamOptions: &StreamOptions{IncludeUsage: true},
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues("stream", "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	usage, err := readStream(ctx, resp.Body, callback)
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues("stream", "error").Inc()
		return usage, err
	}
	metrics.LLMCallsTotal.WithLabelValues("stream", "ok").Inc()
	logUsage(model, usage)
	return usage, nil
}

func readStream(ctx context.Context, body io.Reader, callback StreamCallback) (*Usage, error) {
	reader := bufio.NewReader(body)
	var usage *Usage

	for {
		select {
		case <-ctx.Done():
			return usage, ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return usage, fmt.Errorf("failed to read stream: %w", err)
		}
		eof := err == io.EOF

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return usage, nil
			}

			var chunk StreamChunk
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr == nil {
				if chunk.Usage != nil {
					usage = chunk.Usage
				}
				if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
					d := chunk.Choices[0].Delta
					if d.ReasoningContent != "" || d.Content != "" {
						if err := callback(Delta{Reasoning: d.ReasoningContent, Content: d.Content}); err != nil {
							return usage, err
						}
					}
				}
			}
		}

		if eof {
			return usage, nil
		}
	}
}

func (c *Client) do(ctx context.Context, req *ChatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("LLM API error [%d]: %s (type: %s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("LLM API error [%d]: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func logUsage(model string, usage *Usage) {
	if usage == nil {
		return
	}
	log.Debug().
		Str("model", model).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Msg("llm usage")
}
