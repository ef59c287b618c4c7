package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/reverie-ai/reverie/internal/fault"
)

// Assistant is the catalog record the turn pipeline needs: identity, persona
// instructions and the canned seed conversation. Catalog management (CRUD,
// categories, search) lives outside this service.
type Assistant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	Seed         string `json:"seed"`
}

// SourceTag scopes vector search to this assistant's documents.
func (a Assistant) SourceTag() string {
	return a.ID + ".txt"
}

// Catalog resolves assistants by id.
type Catalog interface {
	Resolve(ctx context.Context, id string) (Assistant, error)
}

// StaticCatalog is an in-process catalog for dev and tests.
type StaticCatalog struct {
	mu         sync.RWMutex
	assistants map[string]Assistant
}

func NewStaticCatalog(assistants ...Assistant) *StaticCatalog {
	c := &StaticCatalog{assistants: make(map[string]Assistant, len(assistants))}
	for _, a := range assistants {
		c.assistants[a.ID] = a
	}
	return c
}

func (c *StaticCatalog) Put(a Assistant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assistants[a.ID] = a
}

// LoadFile reads a catalog from a JSON array of assistants on disk.
func LoadFile(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assistants file: %w", err)
	}
	var list []Assistant
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse assistants file %s: %w", path, err)
	}
	for i, a := range list {
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Name) == "" {
			return nil, fmt.Errorf("assistants file %s: entry %d missing id or name", path, i)
		}
	}
	return NewStaticCatalog(list...), nil
}

func (c *StaticCatalog) Resolve(_ context.Context, id string) (Assistant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assistants[strings.TrimSpace(id)]
	if !ok {
		return Assistant{}, fault.New(fault.KindNotFound, "assistant not found")
	}
	return a, nil
}
