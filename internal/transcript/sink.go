package transcript

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Role tags which side of the exchange a message belongs to.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Message is one persisted transcript row. The turn pipeline only ever
// writes these; reading them back is the chat UI's business.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Role        Role      `json:"role"`
	UserID      string    `json:"user_id"`
	AssistantID string    `json:"assistant_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink is the write-only persistence collaborator.
type Sink interface {
	AppendMessage(ctx context.Context, msg Message) error
	Close() error
}

// MemorySink collects messages in-process for local/dev use and tests.
type MemorySink struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) AppendMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of everything appended so far.
func (s *MemorySink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MemorySink) Close() error { return nil }

// NewSink creates a postgres-backed sink when configured, otherwise in-memory.
func NewSink(ctx context.Context, databaseURL string) (Sink, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemorySink(), nil
	}
	return NewPostgresSink(ctx, databaseURL)
}
