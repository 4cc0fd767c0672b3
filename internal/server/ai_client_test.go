package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"truthscan/backend/internal/config"
)

func newChatTestClient(baseURL string) *OpenAIChatClient {
	return NewOpenAIChatClient(config.Config{
		OpenAIAPIKey:      "test-key",
		OpenAIBaseURL:     baseURL,
		OpenAIModel:       "gpt-4o-mini",
		AIMaxOutputTokens: 420,
		AITimeoutSeconds:  5,
	})
}

func TestCompleteMissingAPIKey(t *testing.T) {
	client := NewOpenAIChatClient(config.Config{OpenAIBaseURL: "http://localhost:0"})
	_, err := client.Complete(context.Background(), AIModelRequest{UserPrompt: "hola"})
	if !errors.Is(err, errMissingAPIKey) {
		t.Fatalf("expected errMissingAPIKey, got %v", err)
	}
}

func TestCompleteSendsExpectedPayload(t *testing.T) {
	var captured map[string]any
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		authHeader = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"gpt-4o-mini-2024","choices":[{"message":{"content":"{\"interestScore\":70}"}}]}`))
	}))
	defer server.Close()

	client := newChatTestClient(server.URL)
	response, err := client.Complete(context.Background(), AIModelRequest{
		SystemPrompt: "sistema",
		UserPrompt:   "usuario",
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if authHeader != "Bearer test-key" {
		t.Fatalf("expected bearer auth header, got %q", authHeader)
	}
	if captured["model"] != "gpt-4o-mini" {
		t.Fatalf("expected configured model, got %v", captured["model"])
	}
	if captured["temperature"] != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", captured["temperature"])
	}
	if captured["max_tokens"] != float64(420) {
		t.Fatalf("expected max_tokens 420, got %v", captured["max_tokens"])
	}
	format, _ := captured["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", captured["response_format"])
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system+user messages, got %v", captured["messages"])
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "sistema" {
		t.Fatalf("unexpected system message: %v", first)
	}

	if response.RawContent != `{"interestScore":70}` {
		t.Fatalf("unexpected raw content: %q", response.RawContent)
	}
	if response.Model != "gpt-4o-mini-2024" {
		t.Fatalf("expected provider model name, got %q", response.Model)
	}
}

func TestCompleteNon2xxReturnsExcerpt(t *testing.T) {
	longBody := strings.Repeat("x", 1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(longBody))
	}))
	defer server.Close()

	client := newChatTestClient(server.URL)
	_, err := client.Complete(context.Background(), AIModelRequest{UserPrompt: "hola"})

	var statusErr *upstreamStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected upstreamStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", statusErr.StatusCode)
	}
	if len([]rune(statusErr.Excerpt)) != providerErrorExcerptLimit {
		t.Fatalf("expected excerpt truncated to %d runes, got %d", providerErrorExcerptLimit, len([]rune(statusErr.Excerpt)))
	}
}

func TestCompleteEmptyContentBecomesEmptyObject(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "empty content", body: `{"choices":[{"message":{"content":"  "}}]}`},
		{name: "missing content", body: `{"choices":[{"message":{}}]}`},
		{name: "no choices", body: `{"choices":[]}`},
		{name: "malformed envelope", body: `not-json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := newChatTestClient(server.URL)
			response, err := client.Complete(context.Background(), AIModelRequest{UserPrompt: "hola"})
			if err != nil {
				t.Fatalf("complete failed: %v", err)
			}
			if response.RawContent != "{}" {
				t.Fatalf("expected literal empty object, got %q", response.RawContent)
			}
		})
	}
}

func TestMockAIClientCountsCalls(t *testing.T) {
	mock := &MockAIClient{RawContent: `{"interestScore":50}`}
	if _, err := mock.Complete(context.Background(), AIModelRequest{}); err != nil {
		t.Fatalf("mock complete failed: %v", err)
	}
	if _, err := mock.Complete(context.Background(), AIModelRequest{}); err != nil {
		t.Fatalf("mock complete failed: %v", err)
	}
	if mock.Calls != 2 {
		t.Fatalf("expected 2 calls, got %d", mock.Calls)
	}
}
