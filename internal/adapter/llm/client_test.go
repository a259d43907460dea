package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:       url + "/v1/",
		APIKey:        "sk-test",
		ChatModel:     "deepseek-chat",
		ReasonerModel: "deepseek-reasoner",
		Timeout:       time.Second,
	})
}

func TestClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "deepseek-chat" || req.Stream {
			t.Fatalf("unexpected request: %+v", req)
		}
		if req.Temperature == nil || *req.Temperature != 0 {
			t.Fatalf("temperature 0 must be sent explicitly")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","model":"deepseek-chat","choices":[{"index":0,"message":{"role":"assistant","content":"{\"intent\":\"sql_query\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	}))
	defer server.Close()

	out, err := newTestClient(server.URL).Complete(context.Background(), []Message{User("hello")}, 0)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != `{"intent":"sql_query"}` {
		t.Fatalf("unexpected content: %q", out)
	}
}

func TestClientCompleteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"authentication_error"}}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), []Message{User("hello")}, 0.7)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientCompleteStreamSeparatesReasoning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "deepseek-reasoner" {
			t.Fatalf("thinking mode must use the reasoner model, got %s", req.Model)
		}
		if !req.Stream || req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Fatalf("unexpected stream flags: %+v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"reasoning_content\":\"Let me think\"}}]}\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"SELECT \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"1\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":3,\"total_tokens\":13}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"after done\"}}]}\n\n")
	}))
	defer server.Close()

	var reasoning, content strings.Builder
	var order []string
	usage, err := newTestClient(server.URL).CompleteStream(context.Background(), []Message{User("q")}, 0.1, true, func(d Delta) error {
		if d.Reasoning != "" {
			reasoning.WriteString(d.Reasoning)
			order = append(order, "r")
		}
		if d.Content != "" {
			content.WriteString(d.Content)
			order = append(order, "c")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	if reasoning.String() != "Let me think" || content.String() != "SELECT 1" {
		t.Fatalf("unexpected deltas: reasoning=%q content=%q", reasoning.String(), content.String())
	}
	if strings.Join(order, "") != "rcc" {
		t.Fatalf("deltas out of order: %v", order)
	}
	if usage == nil || usage.TotalTokens != 13 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
}

func TestClientCompleteStreamUsesChatModelWithoutThinking(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "deepseek-chat" {
			t.Fatalf("expected chat model, got %s", req.Model)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n")
	}))
	defer server.Close()

	var got string
	_, err := newTestClient(server.URL).CompleteStream(context.Background(), []Message{User("q")}, 0.7, false, func(d Delta) error {
		got += d.Content
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	if got != "hi" {
		t.Fatalf("stream without [DONE] should still deliver content, got %q", got)
	}
}

func TestClientCompleteStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	}))
	defer server.Close()

	called := false
	_, err := newTestClient(server.URL).CompleteStream(context.Background(), []Message{User("q")}, 0.1, false, func(d Delta) error {
		called = true
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected 502 error, got %v", err)
	}
	if called {
		t.Fatalf("no delta may be delivered on HTTP error")
	}
}

func TestClientCompleteStreamCallbackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"b\"}}]}\n\n")
	}))
	defer server.Close()

	stop := errors.New("stop")
	_, err := newTestClient(server.URL).CompleteStream(context.Background(), []Message{User("q")}, 0.1, false, func(d Delta) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	out, err := m.Complete(ctx, []Message{System(`Reply with {"intent": "..."}`), User("How many users are there?")}, 0)
	if err != nil || out != `{"intent": "sql_query"}` {
		t.Fatalf("unexpected intent response %q, %v", out, err)
	}

	var reasoning, content string
	_, err = m.CompleteStream(ctx, []Message{User("hello")}, 0.7, true, func(d Delta) error {
		reasoning += d.Reasoning
		content += d.Content
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	if reasoning == "" || !strings.Contains(content, "hello") {
		t.Fatalf("unexpected mock stream: %q / %q", reasoning, content)
	}
}

func TestNewLLMClient(t *testing.T) {
	ctx := context.Background()
	if c, err := NewLLMClient(ctx, "", Config{}); err != nil {
		t.Fatalf("default provider: %v", err)
	} else if _, ok := c.(*Client); !ok {
		t.Fatalf("expected *Client, got %T", c)
	}
	if c, err := NewLLMClient(ctx, ProviderMock, Config{}); err != nil {
		t.Fatalf("mock provider: %v", err)
	} else if _, ok := c.(*MockClient); !ok {
		t.Fatalf("expected *MockClient, got %T", c)
	}
	if _, err := NewLLMClient(ctx, "bedrock", Config{}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
