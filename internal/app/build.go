package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/reverie-ai/reverie/internal/assistant"
	"github.com/reverie-ai/reverie/internal/chat"
	"github.com/reverie-ai/reverie/internal/completion"
	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/history"
	"github.com/reverie-ai/reverie/internal/httpapi"
	"github.com/reverie-ai/reverie/internal/observability"
	"github.com/reverie-ai/reverie/internal/ratelimit"
	"github.com/reverie-ai/reverie/internal/semantic"
	"github.com/reverie-ai/reverie/internal/transcript"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *chat.Orchestrator
	Limiter      *ratelimit.Limiter
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, vector index, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	sink, err := transcript.NewSink(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("transcript sink init failed: %w", err)
	}

	index, err := semantic.NewChromemIndex(semantic.Config{
		PersistPath:    cfg.VectorDBPath,
		Collection:     cfg.VectorCollection,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	if err != nil {
		_ = sink.Close()
		_ = store.Close()
		return nil, fmt.Errorf("semantic index init failed: %w", err)
	}

	client, err := completion.NewClient(completion.Config{
		Mode:    cfg.CompletionProvider,
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
	})
	if err != nil {
		_ = index.Close()
		_ = sink.Close()
		_ = store.Close()
		return nil, fmt.Errorf("completion client init failed: %w", err)
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		_ = index.Close()
		_ = sink.Close()
		_ = store.Close()
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitMax)

	orchestrator := chat.NewOrchestrator(
		limiter,
		store,
		index,
		client,
		catalog,
		sink,
		metrics,
		chat.Options{
			Model:            cfg.CompletionModel,
			MaxTokens:        cfg.CompletionMaxTokens,
			HistoryWindow:    cfg.HistoryWindow,
			SeedDelimiter:    cfg.SeedDelimiter,
			RetrievalTopK:    cfg.RetrievalTopK,
			MinResponseChars: cfg.MinResponseChars,
		},
	)

	api := httpapi.New(cfg, orchestrator, index, metrics)

	cleanup := func() error {
		var errs []string
		if err := index.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := sink.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Limiter:      limiter,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}

func loadCatalog(cfg config.Config) (assistant.Catalog, error) {
	if cfg.AssistantsFile != "" {
		catalog, err := assistant.LoadFile(cfg.AssistantsFile)
		if err != nil {
			return nil, fmt.Errorf("assistant catalog init failed: %w", err)
		}
		return catalog, nil
	}
	return assistant.NewStaticCatalog(devAssistants()...), nil
}

// devAssistants is the built-in catalog used when ASSISTANTS_FILE is unset.
func devAssistants() []assistant.Assistant {
	return []assistant.Assistant{
		{
			ID:   "nova",
			Name: "Nova",
			Instructions: "You are Nova, a warm and curious companion. " +
				"You remember what the user tells you and bring it up naturally. " +
				"Keep replies conversational and under a few sentences.",
			Seed: "Hi, I'm Nova. What's on your mind today?\n\n" +
				"Nothing much, just wanted to talk.\n\n" +
				"I'm glad you did. I'm all ears.",
		},
	}
}
