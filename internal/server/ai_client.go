package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"truthscan/backend/internal/config"
)

const providerErrorExcerptLimit = 300

var errMissingAPIKey = errors.New("OPENAI_API_KEY is not configured")

// upstreamStatusError carries the provider's non-2xx status and a truncated
// excerpt of its body so the handler can surface it.
type upstreamStatusError struct {
	StatusCode int
	Excerpt    string
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("openai chat error (%d): %s", e.StatusCode, e.Excerpt)
}

type AIModelRequest struct {
	SystemPrompt    string
	UserPrompt      string
	MaxOutputTokens int
}

type AIModelResponse struct {
	// RawContent is the completion message content; "{}" when the provider
	// returned an empty or missing content field.
	RawContent string
	Model      string
}

type AIClient interface {
	Complete(ctx context.Context, req AIModelRequest) (AIModelResponse, error)
}

type OpenAIChatClient struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	httpClient      *http.Client
}

func NewOpenAIChatClient(cfg config.Config) *OpenAIChatClient {
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 20
	}
	return &OpenAIChatClient{
		apiKey:          strings.TrimSpace(cfg.OpenAIAPIKey),
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/"),
		model:           strings.TrimSpace(cfg.OpenAIModel),
		maxOutputTokens: cfg.AIMaxOutputTokens,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

// Complete performs a single chat-completion attempt. There is no retry:
// failures surface directly so the caller can map them to a response.
func (c *OpenAIChatClient) Complete(ctx context.Context, req AIModelRequest) (AIModelResponse, error) {
	if c.apiKey == "" {
		return AIModelResponse{}, errMissingAPIKey
	}
	model := c.model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = c.maxOutputTokens
	}
	if maxTokens <= 0 {
		maxTokens = 420
	}

	payload := map[string]any{
		"model":           model,
		"temperature":     0.2,
		"max_tokens":      maxTokens,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": req.SystemPrompt},
			{"role": "user", "content": req.UserPrompt},
		},
	}
	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return AIModelResponse{}, err
	}

	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(bodyRaw),
	)
	if err != nil {
		return AIModelResponse{}, err
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return AIModelResponse{}, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return AIModelResponse{}, err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return AIModelResponse{}, &upstreamStatusError{
			StatusCode: response.StatusCode,
			Excerpt:    truncateRunes(strings.TrimSpace(string(responseBody)), providerErrorExcerptLimit),
		}
	}

	parsed := parseJSONStringMap(responseBody)
	content := extractCompletionContent(parsed)
	if strings.TrimSpace(content) == "" {
		content = "{}"
	}

	modelName := strings.TrimSpace(toStringValue(parsed["model"]))
	if modelName == "" {
		modelName = model
	}

	return AIModelResponse{
		RawContent: content,
		Model:      modelName,
	}, nil
}

func extractCompletionContent(data map[string]any) string {
	choices, ok := data["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	message, ok := first["message"].(map[string]any)
	if !ok {
		return ""
	}
	return toStringValue(message["content"])
}

// MockAIClient is the deterministic stand-in used by handler tests.
type MockAIClient struct {
	RawContent string
	Model      string
	Err        error
	Calls      int
}

func (m *MockAIClient) Complete(_ context.Context, _ AIModelRequest) (AIModelResponse, error) {
	m.Calls++
	if m.Err != nil {
		return AIModelResponse{}, m.Err
	}
	content := m.RawContent
	if strings.TrimSpace(content) == "" {
		content = "{}"
	}
	model := m.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return AIModelResponse{RawContent: content, Model: model}, nil
}
