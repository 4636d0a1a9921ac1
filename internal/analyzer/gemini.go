package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"github.com/iyulab/incident-advisor/internal/failure"
)

// GeminiProvider is a thin wrapper around the official genai client.
type GeminiProvider struct {
	cli   *genai.Client
	model string
}

// NewGeminiProvider creates a provider for the Gemini API. A non-empty
// endpoint overrides the API base URL.
func NewGeminiProvider(ctx context.Context, apiKey, model, endpoint string, httpClient *http.Client) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &GeminiProvider{cli: cli, model: model}, nil
}

func (g *GeminiProvider) Name() string { return "gemini:" + g.model }

func (g *GeminiProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:   genai.Ptr(opts.Temperature),
		StopSequences: opts.StopSequences,
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}

	var contents []*genai.Content
	for _, m := range messages {
		part := &genai.Part{Text: m.Content}
		if m.Role == RoleSystem {
			cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{part}}
			continue
		}
		contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", failure.New(failure.MalformedOutput, "gemini", "empty response from gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// classifyGeminiError converts genai API errors into *failure.StatusError so
// retry and the breaker see 408/429/5xx as transient. genai returns APIError
// by value, with Code taken from the error body.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return &failure.StatusError{
			Provider:   "gemini",
			StatusCode: apiErr.Code,
			Body:       truncateAPIError([]byte(apiErr.Message)),
		}
	}
	return fmt.Errorf("gemini: %w", err)
}
