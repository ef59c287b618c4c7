package semantic

import "context"

// Document is one retrieved piece of assistant backstory.
type Document struct {
	Content    string  `json:"content"`
	SourceTag  string  `json:"source_tag"`
	Similarity float32 `json:"similarity"`
}

// Index performs similarity search over pre-embedded assistant documents.
// Search failures are surfaced as errors; callers treat retrieval as
// best-effort and degrade to an empty result set.
type Index interface {
	Search(ctx context.Context, query, filterTag string, topK int) ([]Document, error)

	// Add ingests one document under a source tag. Ingestion is driven by
	// external tooling; the turn pipeline only searches.
	Add(ctx context.Context, id, content, sourceTag string) error

	Close() error
}
