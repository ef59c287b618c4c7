package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reverie-ai/reverie/internal/reliability"
)

const openAIMaxAttempts = 3

// OpenAIClient streams chat completions from an OpenAI-compatible endpoint
// (OpenAI, vLLM, LiteLLM, Ollama and friends).
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAIClient) { o.httpClient = c }
}

func NewOpenAIClient(baseURL, apiKey string, opts ...OpenAIOption) *OpenAIClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	c := &OpenAIClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
	Stream    bool         `json:"stream"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	body, err := c.open(ctx, req)
	if err != nil {
		return Response{}, err
	}
	defer body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return Response{Text: full.String()}, nil
		}

		var chunk oaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{Text: full.String()}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		// Forwarded deltas are not retracted; the caller decides what to do
		// with the truncated accumulation.
		return Response{Text: full.String()}, fmt.Errorf("completion stream interrupted: %w", err)
	}
	return Response{Text: full.String()}, nil
}

// open issues the request, retrying retryable statuses before any stream
// bytes have been consumed.
func (c *OpenAIClient) open(ctx context.Context, req Request) (io.ReadCloser, error) {
	payload, err := json.Marshal(oaiRequest{
		Model:     req.Model,
		Messages:  []oaiMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	var lastStatus int
	for attempt := 0; attempt < openAIMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, 200*time.Millisecond, 2*time.Second)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build completion request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("completion request: %w", err)
		}
		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}

		lastStatus = resp.StatusCode
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, fmt.Errorf("completion request failed: status %d", resp.StatusCode)
		}
	}
	return nil, fmt.Errorf("completion request failed after %d attempts: status %d", openAIMaxAttempts, lastStatus)
}
