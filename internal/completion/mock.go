package completion

import (
	"context"
	"strings"
)

// MockClient provides deterministic local replies when no provider is
// configured. Deltas are emitted word by word so streaming consumers get
// exercised.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Stream(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	var full strings.Builder
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Response{Text: full.String()}, ctx.Err()
		default:
		}
		full.WriteString(word)
		if onDelta != nil {
			if err := onDelta(word); err != nil {
				return Response{Text: full.String()}, err
			}
		}
	}
	return Response{Text: full.String()}, nil
}

func buildMockReply(req Request) string {
	prompt := req.Prompt
	// Echo the last conversation line so replies feel anchored.
	if i := strings.LastIndex(prompt, "User: "); i >= 0 {
		line := prompt[i+len("User: "):]
		if j := strings.IndexByte(line, '\n'); j >= 0 {
			line = line[:j]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			return "I hear you about " + line + " and I am here with you."
		}
	}
	return "I am here and listening."
}
