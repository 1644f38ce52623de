package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"eventletter/internal/config"
)

// openAIProvider talks to OpenAI or any OpenAI-compatible endpoint such as
// Open WebUI.
type openAIProvider struct {
	model     string
	baseURL   string
	maxTokens int
}

func newOpenAIProvider(cfg config.OracleConfig) *openAIProvider {
	return &openAIProvider{
		model:     cfg.Model,
		baseURL:   cfg.BaseURL,
		maxTokens: cfg.MaxTokens,
	}
}

func (p *openAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	if req.Credential.APIKey == "" {
		return "", ErrNoCredential
	}
	opts := []openai.Option{
		openai.WithToken(req.Credential.APIKey),
		openai.WithModel(modelFor(req, p.model)),
	}
	if p.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	callOpts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if p.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(p.maxTokens))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, llm, req.Prompt, callOpts...)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", errors.New("openai: empty response")
	}
	return out, nil
}
