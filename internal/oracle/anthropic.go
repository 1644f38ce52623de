package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"eventletter/internal/config"
)

type anthropicProvider struct {
	model     string
	baseURL   string
	maxTokens int64
}

func newAnthropicProvider(cfg config.OracleConfig) *anthropicProvider {
	return &anthropicProvider{
		model:     cfg.Model,
		baseURL:   cfg.BaseURL,
		maxTokens: int64(cfg.MaxTokens),
	}
}

// Complete builds a client for this call only, so the key never outlives it.
func (p *anthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	if req.Credential.APIKey == "" {
		return "", ErrNoCredential
	}
	opts := []option.RequestOption{option.WithAPIKey(req.Credential.APIKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	client := anthropic.NewClient(opts...)

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(modelFor(req, p.model)),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("anthropic: empty response")
	}
	return b.String(), nil
}
