package history

import (
	"context"
	"net/url"
	"strings"

	"github.com/reverie-ai/reverie/internal/fault"
)

// MemoryKey addresses one (assistant, model, user) conversation buffer.
type MemoryKey struct {
	AssistantName string `json:"assistant_name"`
	ModelName     string `json:"model_name"`
	UserID        string `json:"user_id"`
}

// Validate rejects keys with any empty component.
func (k MemoryKey) Validate() error {
	if strings.TrimSpace(k.AssistantName) == "" ||
		strings.TrimSpace(k.ModelName) == "" ||
		strings.TrimSpace(k.UserID) == "" {
		return fault.New(fault.KindInvalidKey, "memory key requires assistant, model and user")
	}
	return nil
}

// Encode renders the key as a single string. Each field is percent-escaped
// before joining so a field containing the separator cannot collide with
// another key.
func (k MemoryKey) Encode() string {
	return url.PathEscape(k.AssistantName) + "/" +
		url.PathEscape(k.ModelName) + "/" +
		url.PathEscape(k.UserID)
}

// Entry is one line of conversation text with its ordering score.
// Scores are strictly increasing per key; entries are never mutated.
type Entry struct {
	Text  string `json:"text"`
	Score int64  `json:"score"`
}

// Store is the recency buffer backing a conversation window.
type Store interface {
	// Read returns at most the `limit` most recent entries in ascending
	// score order. An unknown key yields an empty slice, not an error.
	Read(ctx context.Context, key MemoryKey, limit int) ([]Entry, error)

	// Append inserts text with a score strictly greater than any existing
	// score for the key, even under concurrent appends.
	Append(ctx context.Context, key MemoryKey, text string) error

	// SeedIfEmpty splits seed on delimiter and inserts the lines with
	// ascending integer scores, only if the key has never been seeded or
	// appended to. The check and write are atomic per key. Reports whether
	// seeding happened.
	SeedIfEmpty(ctx context.Context, key MemoryKey, seed, delimiter string) (bool, error)

	// Exists reports whether the key holds any entries.
	Exists(ctx context.Context, key MemoryKey) (bool, error)

	Close() error
}

// SplitSeed breaks seed content into non-empty trimmed lines.
func SplitSeed(seed, delimiter string) []string {
	if delimiter == "" {
		delimiter = "\n"
	}
	parts := strings.Split(seed, delimiter)
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lines = append(lines, p)
	}
	return lines
}
