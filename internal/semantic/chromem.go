package semantic

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex wraps chromem-go, an embedded pure-Go vector database.
// Documents carry a "source" metadata tag scoping them to one assistant.
type ChromemIndex struct {
	db  *chromem.DB
	col *chromem.Collection
}

// Config controls index construction.
type Config struct {
	// PersistPath stores the index on disk when set; empty keeps it in memory.
	PersistPath string
	// Collection names the document namespace. Defaults to "reverie".
	Collection string
	// OpenAIAPIKey enables provider-side embeddings. When empty a local
	// deterministic embedding is used, which is only suitable for dev/tests.
	OpenAIAPIKey   string
	EmbeddingModel string
}

func NewChromemIndex(cfg Config) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if strings.TrimSpace(cfg.PersistPath) != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	name := strings.TrimSpace(cfg.Collection)
	if name == "" {
		name = "reverie"
	}

	col, err := db.GetOrCreateCollection(name, nil, embeddingFunc(cfg))
	if err != nil {
		return nil, fmt.Errorf("open collection %q: %w", name, err)
	}

	return &ChromemIndex{db: db, col: col}, nil
}

func embeddingFunc(cfg Config) chromem.EmbeddingFunc {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return localEmbedding
	}
	model := chromem.EmbeddingModelOpenAI(strings.TrimSpace(cfg.EmbeddingModel))
	if model == "" {
		model = chromem.EmbeddingModelOpenAI3Small
	}
	return chromem.NewEmbeddingFuncOpenAI(cfg.OpenAIAPIKey, model)
}

func (x *ChromemIndex) Search(ctx context.Context, query, filterTag string, topK int) ([]Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}
	if x.col.Count() == 0 {
		return nil, nil
	}

	// chromem rejects nResults above the number of documents matching the
	// filter, and the filtered count is not observable up front. Shrink topK
	// until the query fits; an empty tag ends up with no results.
	where := map[string]string{"source": filterTag}
	var results []chromem.Result
	for k := topK; k >= 1; k-- {
		var err error
		results, err = x.col.Query(ctx, query, k, where, nil)
		if err == nil {
			break
		}
		if strings.Contains(err.Error(), "nResults") {
			if k == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("vector query: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, Document{
			Content:    r.Content,
			SourceTag:  r.Metadata["source"],
			Similarity: r.Similarity,
		})
	}
	return docs, nil
}

func (x *ChromemIndex) Add(ctx context.Context, id, content, sourceTag string) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(content) == "" {
		return fmt.Errorf("document id and content are required")
	}
	err := x.col.AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  content,
		Metadata: map[string]string{"source": sourceTag},
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (x *ChromemIndex) Close() error { return nil }
