package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/iyulab/incident-advisor/internal/failure"
)

// OpenAIProvider talks to OpenAI or any server exposing the same
// /chat/completions API (LM Studio, llama.cpp, vLLM, GPUStack).
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider. An empty endpoint uses the public
// OpenAI API.
func NewOpenAIProvider(apiKey, model, endpoint string, httpClient *http.Client) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		msgs[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		Stop:        opts.StopSequences,
	}
	// Reasoning models reject max_tokens and take max_completion_tokens instead.
	if isReasoningModel(p.model) {
		req.MaxCompletionTokens = opts.MaxOutputTokens
	} else {
		req.MaxTokens = opts.MaxOutputTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", failure.New(failure.MalformedOutput, "openai", "empty response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// classifyOpenAIError converts SDK errors carrying an HTTP status into
// *failure.StatusError so retry sees 429/5xx as transient.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &failure.StatusError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Body:       truncateAPIError([]byte(apiErr.Message)),
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &failure.StatusError{
			Provider:   "openai",
			StatusCode: reqErr.HTTPStatusCode,
			Body:       http.StatusText(reqErr.HTTPStatusCode),
		}
	}
	return fmt.Errorf("openai: %w", err)
}
