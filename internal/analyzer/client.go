package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/iyulab/incident-advisor/internal/failure"
)

// postJSON sends body to url and returns the response body of a 200 reply.
// Non-200 replies become *failure.StatusError so retry can classify them.
func postJSON(ctx context.Context, client *http.Client, provider, url string, body interface{}, header http.Header) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &failure.StatusError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       truncateAPIError(respBody),
		}
	}
	return respBody, nil
}

// --- Ollama Provider ---

// OllamaProvider implements the Provider interface for a local Ollama server.
type OllamaProvider struct {
	model    string
	endpoint string
	client   *http.Client
}

func (p *OllamaProvider) Name() string { return "ollama:" + p.model }

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	msgs := make([]map[string]string, len(messages))
	for i, m := range messages {
		msgs[i] = map[string]string{"role": string(m.Role), "content": m.Content}
	}

	options := map[string]interface{}{
		"temperature": opts.Temperature,
	}
	if opts.MaxOutputTokens > 0 {
		options["num_predict"] = opts.MaxOutputTokens
	}
	if len(opts.StopSequences) > 0 {
		options["stop"] = opts.StopSequences
	}

	body := map[string]interface{}{
		"model":    p.model,
		"messages": msgs,
		"stream":   false,
		"options":  options,
	}

	respBody, err := postJSON(ctx, p.client, "ollama", p.endpoint+"/api/chat", body, nil)
	if err != nil {
		return "", err
	}

	var result struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", failure.Wrap(failure.MalformedOutput, "ollama", fmt.Errorf("parse response: %w", err))
	}
	if result.Message == nil {
		return "", failure.New(failure.MalformedOutput, "ollama", "response has no message")
	}

	return result.Message.Content, nil
}

// --- Anthropic Provider ---

// AnthropicProvider implements the Provider interface for the Claude Messages API.
type AnthropicProvider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

func (p *AnthropicProvider) Name() string { return "anthropic:" + p.model }

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	var system string
	var turns []map[string]string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		turns = append(turns, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]interface{}{
		"model":       p.model,
		"max_tokens":  maxTokens,
		"temperature": opts.Temperature,
		"system":      system,
		"messages":    turns,
	}
	if len(opts.StopSequences) > 0 {
		body["stop_sequences"] = opts.StopSequences
	}

	header := http.Header{}
	header.Set("x-api-key", p.apiKey)
	header.Set("anthropic-version", "2023-06-01")

	respBody, err := postJSON(ctx, p.client, "anthropic", p.endpoint+"/messages", body, header)
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", failure.Wrap(failure.MalformedOutput, "anthropic", fmt.Errorf("parse response: %w", err))
	}
	if len(result.Content) == 0 {
		return "", failure.New(failure.MalformedOutput, "anthropic", "empty response from anthropic")
	}

	for _, block := range result.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", failure.New(failure.MalformedOutput, "anthropic", "no text block in anthropic response")
}
