package chat

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reverie-ai/reverie/internal/assistant"
	"github.com/reverie-ai/reverie/internal/completion"
	"github.com/reverie-ai/reverie/internal/fault"
	"github.com/reverie-ai/reverie/internal/history"
	"github.com/reverie-ai/reverie/internal/observability"
	"github.com/reverie-ai/reverie/internal/prompt"
	"github.com/reverie-ai/reverie/internal/ratelimit"
	"github.com/reverie-ai/reverie/internal/semantic"
	"github.com/reverie-ai/reverie/internal/transcript"
)

// TurnRequest is one inbound chat turn. Identity resolution happens outside
// this service; an empty user is rejected as unauthorized.
type TurnRequest struct {
	AssistantID string `json:"assistant_id"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	Prompt      string `json:"prompt"`
}

// Options tune the turn pipeline.
type Options struct {
	Model         string
	MaxTokens     int
	HistoryWindow int
	SeedDelimiter string
	RetrievalTopK int

	// MinResponseChars gates persisting the assistant side: responses whose
	// trimmed length is below this are forwarded but never stored.
	MinResponseChars int
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "gpt-4o-mini"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2000
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 30
	}
	if o.SeedDelimiter == "" {
		o.SeedDelimiter = "\n\n"
	}
	if o.RetrievalTopK <= 0 {
		o.RetrievalTopK = 3
	}
	if o.MinResponseChars <= 0 {
		o.MinResponseChars = 2
	}
	return o
}

// Orchestrator runs the turn pipeline: admission, history load and seeding,
// user append, semantic retrieval, prompt assembly, streamed completion,
// and finalization. Constructed once at startup and shared read-only by
// request handlers.
type Orchestrator struct {
	limiter *ratelimit.Limiter
	store   history.Store
	index   semantic.Index
	client  completion.Client
	catalog assistant.Catalog
	sink    transcript.Sink
	metrics *observability.Metrics
	opts    Options
}

func NewOrchestrator(
	limiter *ratelimit.Limiter,
	store history.Store,
	index semantic.Index,
	client completion.Client,
	catalog assistant.Catalog,
	sink transcript.Sink,
	metrics *observability.Metrics,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		limiter: limiter,
		store:   store,
		index:   index,
		client:  client,
		catalog: catalog,
		sink:    sink,
		metrics: metrics,
		opts:    opts.withDefaults(),
	}
}

// Turn is one in-flight streamed exchange. Deltas must be drained; the
// channel closes when the stream ends. Wait blocks until finalization.
type Turn struct {
	ID string

	deltas chan string
	done   chan struct{}

	text string
	err  error
}

func (t *Turn) Deltas() <-chan string { return t.deltas }

// Wait returns the finalized assistant text. A non-nil error means the turn
// did not finalize; any forwarded partial output was not persisted.
func (t *Turn) Wait() (string, error) {
	<-t.done
	return t.text, t.err
}

// StartTurn drives the pipeline up to the streaming state and returns the
// in-flight turn. Errors before streaming starts are returned directly; no
// partial stream is ever handed out.
func (o *Orchestrator) StartTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	started := time.Now()

	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.UserName) == "" {
		return nil, fault.New(fault.KindUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fault.New(fault.KindInvalidKey, "prompt is required")
	}

	if !o.limiter.Allow("chat/" + req.AssistantID + "-" + req.UserID) {
		o.metrics.RateRejections.Inc()
		o.metrics.TurnsTotal.WithLabelValues("rate_limited").Inc()
		return nil, fault.New(fault.KindRateLimited, "rate limit exceeded")
	}

	asst, err := o.catalog.Resolve(ctx, req.AssistantID)
	if err != nil {
		o.metrics.TurnsTotal.WithLabelValues("failed").Inc()
		if fault.KindOf(err) == fault.KindNotFound {
			return nil, err
		}
		return nil, fault.Wrap(fault.KindInternal, "assistant lookup failed", err)
	}

	if err := o.sink.AppendMessage(ctx, transcript.Message{
		Content:     req.Prompt,
		Role:        transcript.RoleUser,
		UserID:      req.UserID,
		AssistantID: asst.ID,
	}); err != nil {
		o.metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return nil, fault.Wrap(fault.KindInternal, "failed to persist message", err)
	}

	key := history.MemoryKey{
		AssistantName: asst.ID,
		ModelName:     o.opts.Model,
		UserID:        req.UserID,
	}

	readStart := time.Now()
	window, err := o.store.Read(ctx, key, o.opts.HistoryWindow)
	if err != nil {
		o.metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return nil, fault.Wrap(fault.KindStoreUnavailable, "history unavailable", err)
	}
	o.metrics.ObserveTurnStage("history_read", time.Since(readStart))

	if len(window) == 0 {
		seeded, err := o.store.SeedIfEmpty(ctx, key, asst.Seed, o.opts.SeedDelimiter)
		if err != nil {
			o.metrics.TurnsTotal.WithLabelValues("failed").Inc()
			return nil, fault.Wrap(fault.KindStoreUnavailable, "history unavailable", err)
		}
		if seeded {
			log.Printf("chat: seeded history for assistant=%s user=%s", asst.ID, req.UserID)
		}
	}

	appendStart := time.Now()
	if err := o.store.Append(ctx, key, "User: "+req.Prompt+"\n"); err != nil {
		o.metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return nil, fault.Wrap(fault.KindStoreUnavailable, "history unavailable", err)
	}
	o.metrics.ObserveTurnStage("user_append", time.Since(appendStart))

	// Re-read so retrieval and the prompt both see the seeded lines and the
	// just-appended user turn.
	recent, err := o.store.Read(ctx, key, o.opts.HistoryWindow)
	if err != nil {
		o.metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return nil, fault.Wrap(fault.KindStoreUnavailable, "history unavailable", err)
	}
	o.metrics.HistoryWindowSize.Observe(float64(len(recent)))

	docs := o.retrieve(ctx, recent, asst)

	promptText := prompt.Build(prompt.Persona{Name: asst.Name, Instructions: asst.Instructions}, docs, recent)

	turn := &Turn{
		ID:     uuid.NewString(),
		deltas: make(chan string, 64),
		done:   make(chan struct{}),
	}

	stream := completion.Run(ctx, o.client, completion.Request{
		Model:     o.opts.Model,
		Prompt:    promptText,
		MaxTokens: o.opts.MaxTokens,
		TurnID:    turn.ID,
	})

	go o.finish(ctx, turn, stream, key, asst, req, started)

	return turn, nil
}

// finish forwards deltas, then finalizes: the assistant turn is appended to
// history and the transcript only if the stream completed and the text
// passes the minimal-length gate.
func (o *Orchestrator) finish(
	ctx context.Context,
	turn *Turn,
	stream *completion.Stream,
	key history.MemoryKey,
	asst assistant.Assistant,
	req TurnRequest,
	started time.Time,
) {
	defer close(turn.done)

	first := true
	for delta := range stream.Deltas() {
		if first {
			o.metrics.ObserveFirstDeltaLatency(time.Since(started))
			first = false
		}
		select {
		case turn.deltas <- delta:
		case <-ctx.Done():
			// Caller is gone; keep draining so the stream can wind down.
		}
	}
	close(turn.deltas)

	text, err := stream.Final()
	if err != nil {
		o.metrics.StreamErrors.WithLabelValues("mid_stream").Inc()
		o.metrics.TurnsTotal.WithLabelValues("interrupted").Inc()
		turn.err = fault.Wrap(fault.KindStreamInterrupted, "response stream interrupted", err)
		return
	}

	text = strings.TrimSpace(text)
	if len(text) < o.opts.MinResponseChars {
		o.metrics.ObserveTurnIndicator("short_response_discarded")
		o.metrics.TurnsTotal.WithLabelValues("discarded").Inc()
		turn.text = text
		return
	}

	// The inbound request may be torn down right after the stream ends;
	// finalization should still land.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(persistCtx)
	g.Go(func() error {
		return o.store.Append(gctx, key, text)
	})
	g.Go(func() error {
		return o.sink.AppendMessage(gctx, transcript.Message{
			Content:     text,
			Role:        transcript.RoleSystem,
			UserID:      req.UserID,
			AssistantID: asst.ID,
		})
	})
	if err := g.Wait(); err != nil {
		log.Printf("chat: finalize persistence failed for assistant=%s user=%s: %v", asst.ID, req.UserID, err)
		o.metrics.TurnsTotal.WithLabelValues("failed").Inc()
		turn.text = text
		turn.err = fault.Wrap(fault.KindInternal, "failed to persist response", err)
		return
	}

	o.metrics.ObserveTurnStage("turn_total", time.Since(started))
	o.metrics.TurnsTotal.WithLabelValues("completed").Inc()
	turn.text = text
}

// retrieve is best-effort: an unavailable index degrades to no context.
func (o *Orchestrator) retrieve(ctx context.Context, recent []history.Entry, asst assistant.Assistant) []semantic.Document {
	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, e.Text)
	}
	query := strings.Join(lines, "\n")

	retrieveStart := time.Now()
	docs, err := o.index.Search(ctx, query, asst.SourceTag(), o.opts.RetrievalTopK)
	if err != nil {
		log.Printf("chat: vector search degraded for assistant=%s: %v", asst.ID, err)
		o.metrics.RetrievalFailures.Inc()
		o.metrics.ObserveTurnIndicator("retrieval_degraded")
		return nil
	}
	o.metrics.ObserveTurnStage("retrieve", time.Since(retrieveStart))
	return docs
}
