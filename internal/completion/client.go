package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is the normalized completion request for one turn.
type Request struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	TurnID    string `json:"turn_id"`
}

// Response is the final accumulated text after streaming deltas.
type Response struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments as they arrive.
type DeltaHandler func(delta string) error

// Client streams one completion. Implementations must call onDelta in
// arrival order and return the full accumulated text; on a mid-stream
// failure they return whatever accumulated alongside the error.
type Client interface {
	Stream(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config controls client construction.
type Config struct {
	Mode    string
	BaseURL string
	APIKey  string
}

func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" || strings.TrimSpace(cfg.BaseURL) != "" {
			return NewOpenAIClient(cfg.BaseURL, cfg.APIKey), nil
		}
		return NewMockClient(), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("openai completion mode requires an API key or base URL")
		}
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider mode %q", cfg.Mode)
	}
}
