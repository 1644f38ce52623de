// Package oracle calls the external language model used for classification
// and prose generation.
//
// The API key travels inside each Request and is never kept by a provider.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eventletter/internal/config"
)

// ErrNoCredential is returned when a request carries no API key.
var ErrNoCredential = errors.New("oracle: api key is required")

// Purpose labels a call for metrics and logs.
type Purpose string

const (
	PurposeClassify Purpose = "classify"
	PurposeDescribe Purpose = "describe"
	PurposeShorten  Purpose = "shorten"
)

// Credential is supplied by the caller for a single call.
type Credential struct {
	APIKey string `json:"-"`
	// Model overrides the configured model when set.
	Model string `json:"model,omitempty"`
}

// Request is one completion call.
type Request struct {
	Prompt      string
	Temperature float64
	Purpose     Purpose
	Credential  Credential
}

// Oracle completes a prompt into text.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// New builds the provider named in cfg behind the rate limiter and per-call
// timeout.
func New(cfg config.OracleConfig) (Oracle, error) {
	var p Oracle
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		p = newAnthropicProvider(cfg)
	case "openai", "openwebui", "":
		if cfg.Provider == "openwebui" && cfg.BaseURL == "" {
			return nil, errors.New("oracle: openwebui requires base_url")
		}
		p = newOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("oracle: unknown provider %q", cfg.Provider)
	}
	return NewThrottled(p, cfg.Provider, cfg.CallDelay, cfg.Timeout), nil
}

func modelFor(req Request, fallback string) string {
	if req.Credential.Model != "" {
		return req.Credential.Model
	}
	return fallback
}
