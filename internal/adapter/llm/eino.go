package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/xiaot623/gogo/sqlagent/internal/metrics"
)

// EinoClient adapts eino chat models to LLMClient.
type EinoClient struct {
	chat     model.BaseChatModel
	reasoner model.BaseChatModel
}

// Ensure EinoClient implements LLMClient interface.
var _ LLMClient = (*EinoClient)(nil)

// NewEinoClient builds eino OpenAI chat models for the chat and reasoner model names.
func NewEinoClient(ctx context.Context, cfg Config) (*EinoClient, error) {
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.ChatModel,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model: %w", err)
	}
	reasoner, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.ReasonerModel,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino reasoner model: %w", err)
	}
	return NewEinoClientFromModels(chat, reasoner), nil
}

// NewEinoClientFromModels wraps existing eino models.
func NewEinoClientFromModels(chat, reasoner model.BaseChatModel) *EinoClient {
	return &EinoClient{chat: chat, reasoner: reasoner}
}

func toSchemaMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, &schema.Message{Role: schema.RoleType(m.Role), Content: m.Content})
	}
	return out
}

func (c *EinoClient) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	resp, err := c.chat.Generate(ctx, toSchemaMessages(messages), model.WithTemperature(float32(temperature)))
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues("complete", "error").Inc()
		return "", err
	}
	metrics.LLMCallsTotal.WithLabelValues("complete", "ok").Inc()
	return resp.Content, nil
}

func (c *EinoClient) CompleteStream(ctx context.Context, messages []Message, temperature float64, enableThinking bool, callback StreamCallback) (*Usage, error) {
	m := c.chat
	if enableThinking {
		m = c.reasoner
	}
	reader, err := m.Stream(ctx, toSchemaMessages(messages), model.WithTemperature(float32(temperature)))
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues("stream", "error").Inc()
		return nil, err
	}
	defer reader.Close()

	var usage *Usage
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.LLMCallsTotal.WithLabelValues("stream", "error").Inc()
			return usage, err
		}
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			usage = &Usage{
				PromptTokens:     msg.ResponseMeta.Usage.PromptTokens,
				CompletionTokens: msg.ResponseMeta.Usage.CompletionTokens,
				TotalTokens:      msg.ResponseMeta.Usage.TotalTokens,
			}
		}
		if msg.ReasoningContent == "" && msg.Content == "" {
			continue
		}
		if err := callback(Delta{Reasoning: msg.ReasoningContent, Content: msg.Content}); err != nil {
			return usage, err
		}
	}
	metrics.LLMCallsTotal.WithLabelValues("stream", "ok").Inc()
	return usage, nil
}
