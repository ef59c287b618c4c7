package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/reverie-ai/reverie/internal/assistant"
	"github.com/reverie-ai/reverie/internal/completion"
	"github.com/reverie-ai/reverie/internal/fault"
	"github.com/reverie-ai/reverie/internal/history"
	"github.com/reverie-ai/reverie/internal/observability"
	"github.com/reverie-ai/reverie/internal/ratelimit"
	"github.com/reverie-ai/reverie/internal/semantic"
	"github.com/reverie-ai/reverie/internal/transcript"
)

// fixedClient streams a canned reply and records the prompt it saw.
type fixedClient struct {
	reply   string
	err     error
	prompts []string
}

func (c *fixedClient) Stream(_ context.Context, req completion.Request, onDelta completion.DeltaHandler) (completion.Response, error) {
	c.prompts = append(c.prompts, req.Prompt)
	if c.err != nil {
		half := c.reply[:len(c.reply)/2]
		if onDelta != nil {
			_ = onDelta(half)
		}
		return completion.Response{Text: half}, c.err
	}
	if onDelta != nil {
		if err := onDelta(c.reply); err != nil {
			return completion.Response{}, err
		}
	}
	return completion.Response{Text: c.reply}, nil
}

// failingIndex simulates an unreachable vector backend.
type failingIndex struct{}

func (failingIndex) Search(context.Context, string, string, int) ([]semantic.Document, error) {
	return nil, errors.New("vector backend unreachable")
}
func (failingIndex) Add(context.Context, string, string, string) error { return nil }
func (failingIndex) Close() error                                      { return nil }

// staticIndex returns fixed documents.
type staticIndex struct {
	docs []semantic.Document
}

func (i staticIndex) Search(context.Context, string, string, int) ([]semantic.Document, error) {
	return i.docs, nil
}
func (staticIndex) Add(context.Context, string, string, string) error { return nil }
func (staticIndex) Close() error                                      { return nil }

type fixture struct {
	orch  *Orchestrator
	store *history.InMemoryStore
	sink  *transcript.MemorySink
}

func novaAssistant() assistant.Assistant {
	return assistant.Assistant{
		ID:           "nova",
		Name:         "Nova",
		Instructions: "You are Nova, a warm companion.",
		Seed:         "Hi.\n\nI'm Nova.",
	}
}

func newFixture(t *testing.T, client completion.Client, index semantic.Index, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	store := history.NewInMemoryStore()
	sink := transcript.NewMemorySink()
	metrics := observability.NewMetrics(fmt.Sprintf("test_chat_%d", time.Now().UnixNano()))
	catalog := assistant.NewStaticCatalog(novaAssistant())

	orch := NewOrchestrator(limiter, store, index, client, catalog, sink, metrics,
		Options{Model: "llama2-13b"})
	return &fixture{orch: orch, store: store, sink: sink}
}

func runTurn(t *testing.T, orch *Orchestrator, req TurnRequest) (string, []string, error) {
	t.Helper()
	turn, err := orch.StartTurn(context.Background(), req)
	if err != nil {
		return "", nil, err
	}
	var forwarded []string
	for d := range turn.Deltas() {
		forwarded = append(forwarded, d)
	}
	text, err := turn.Wait()
	return text, forwarded, err
}

func novaRequest(prompt string) TurnRequest {
	return TurnRequest{AssistantID: "nova", UserID: "u1", UserName: "Uli", Prompt: prompt}
}

func TestTurnSeedsEmptyHistory(t *testing.T) {
	f := newFixture(t, &fixedClient{reply: "It is lovely to meet you."}, staticIndex{}, nil)

	if _, _, err := runTurn(t, f.orch, novaRequest("Hello")); err != nil {
		t.Fatalf("turn error = %v", err)
	}

	key := history.MemoryKey{AssistantName: "nova", ModelName: "llama2-13b", UserID: "u1"}
	window, err := f.store.Read(context.Background(), key, 30)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(window) != 4 {
		t.Fatalf("window has %d entries, want 4 (2 seed + user + assistant)", len(window))
	}
	if window[0].Text != "Hi." || window[0].Score != 0 {
		t.Fatalf("first seed entry = %+v", window[0])
	}
	if window[1].Text != "I'm Nova." || window[1].Score != 1 {
		t.Fatalf("second seed entry = %+v", window[1])
	}
}

func TestTurnAppendsUserThenAssistant(t *testing.T) {
	f := newFixture(t, &fixedClient{reply: "I remember the coast."}, staticIndex{}, nil)
	ctx := context.Background()
	key := history.MemoryKey{AssistantName: "nova", ModelName: "llama2-13b", UserID: "u1"}

	// Pre-seed so this turn exercises the non-empty path.
	if _, err := f.store.SeedIfEmpty(ctx, key, "Hi.\n\nI'm Nova.", "\n\n"); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	text, forwarded, err := runTurn(t, f.orch, novaRequest("Hello"))
	if err != nil {
		t.Fatalf("turn error = %v", err)
	}
	if text != "I remember the coast." {
		t.Fatalf("Wait() text = %q", text)
	}
	if strings.Join(forwarded, "") != text {
		t.Fatalf("forwarded %q != final %q", strings.Join(forwarded, ""), text)
	}

	window, err := f.store.Read(ctx, key, 30)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	n := len(window)
	if n < 2 {
		t.Fatalf("window too small: %d", n)
	}
	if window[n-2].Text != "User: Hello\n" {
		t.Fatalf("penultimate entry = %q, want user turn", window[n-2].Text)
	}
	if window[n-1].Text != "I remember the coast." {
		t.Fatalf("last entry = %q, want assistant turn", window[n-1].Text)
	}
	if window[n-1].Score <= window[n-2].Score {
		t.Fatalf("scores not strictly increasing: %d then %d", window[n-2].Score, window[n-1].Score)
	}
}

func TestTurnPersistsBothTranscriptSides(t *testing.T) {
	f := newFixture(t, &fixedClient{reply: "A fine day indeed."}, staticIndex{}, nil)

	if _, _, err := runTurn(t, f.orch, novaRequest("Hello")); err != nil {
		t.Fatalf("turn error = %v", err)
	}

	msgs := f.sink.Messages()
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != transcript.RoleUser || msgs[0].Content != "Hello" {
		t.Fatalf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != transcript.RoleSystem || msgs[1].Content != "A fine day indeed." {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
}

func TestRateLimitedSecondRequest(t *testing.T) {
	limiter := ratelimit.New(time.Minute, 1)
	f := newFixture(t, &fixedClient{reply: "Hello there."}, staticIndex{}, limiter)

	if _, _, err := runTurn(t, f.orch, novaRequest("One")); err != nil {
		t.Fatalf("first turn error = %v", err)
	}
	_, _, err := runTurn(t, f.orch, novaRequest("Two"))
	if fault.KindOf(err) != fault.KindRateLimited {
		t.Fatalf("second turn error kind = %q, want %q", fault.KindOf(err), fault.KindRateLimited)
	}
}

func TestRetrievalFailureDegradesToEmptyContext(t *testing.T) {
	client := &fixedClient{reply: "Still here for you."}
	f := newFixture(t, client, failingIndex{}, nil)

	text, _, err := runTurn(t, f.orch, novaRequest("Hello"))
	if err != nil {
		t.Fatalf("turn error = %v (retrieval must not fail the turn)", err)
	}
	if text == "" {
		t.Fatalf("turn should still stream a response")
	}
	if len(client.prompts) != 1 {
		t.Fatalf("completion called %d times, want 1", len(client.prompts))
	}
}

func TestRetrievedDocumentsReachPrompt(t *testing.T) {
	client := &fixedClient{reply: "The coast, always."}
	idx := staticIndex{docs: []semantic.Document{{Content: "Nova grew up near the coast.", SourceTag: "nova.txt"}}}
	f := newFixture(t, client, idx, nil)

	if _, _, err := runTurn(t, f.orch, novaRequest("Where did you grow up?")); err != nil {
		t.Fatalf("turn error = %v", err)
	}
	if len(client.prompts) != 1 || !strings.Contains(client.prompts[0], "Nova grew up near the coast.") {
		t.Fatalf("retrieved document missing from prompt")
	}
}

func TestShortResponseIsNotPersisted(t *testing.T) {
	f := newFixture(t, &fixedClient{reply: " k "}, staticIndex{}, nil)

	text, _, err := runTurn(t, f.orch, novaRequest("Hello"))
	if err != nil {
		t.Fatalf("turn error = %v", err)
	}
	if text != "k" {
		t.Fatalf("Wait() text = %q, want trimmed %q", text, "k")
	}

	key := history.MemoryKey{AssistantName: "nova", ModelName: "llama2-13b", UserID: "u1"}
	window, err := f.store.Read(context.Background(), key, 30)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if last := window[len(window)-1].Text; last != "User: Hello\n" {
		t.Fatalf("last history entry = %q, short response must not be appended", last)
	}

	msgs := f.sink.Messages()
	if len(msgs) != 1 || msgs[0].Role != transcript.RoleUser {
		t.Fatalf("transcript = %+v, want only the user side", msgs)
	}
}

func TestMidStreamErrorDoesNotPersistPartial(t *testing.T) {
	upstream := errors.New("connection reset")
	f := newFixture(t, &fixedClient{reply: "This reply dies halfway through.", err: upstream}, staticIndex{}, nil)

	text, forwarded, err := runTurn(t, f.orch, novaRequest("Hello"))
	if fault.KindOf(err) != fault.KindStreamInterrupted {
		t.Fatalf("error kind = %q, want %q", fault.KindOf(err), fault.KindStreamInterrupted)
	}
	if text != "" {
		t.Fatalf("Wait() text = %q, want empty on interruption", text)
	}
	if len(forwarded) == 0 {
		t.Fatalf("partial output should still have been forwarded")
	}

	key := history.MemoryKey{AssistantName: "nova", ModelName: "llama2-13b", UserID: "u1"}
	window, _ := f.store.Read(context.Background(), key, 30)
	if last := window[len(window)-1].Text; last != "User: Hello\n" {
		t.Fatalf("last history entry = %q, partial response must not be appended", last)
	}
	if msgs := f.sink.Messages(); len(msgs) != 1 {
		t.Fatalf("transcript has %d rows, want only the user side", len(msgs))
	}
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	f := newFixture(t, &fixedClient{reply: "x"}, staticIndex{}, nil)

	_, err := f.orch.StartTurn(context.Background(), TurnRequest{AssistantID: "nova", Prompt: "Hello"})
	if fault.KindOf(err) != fault.KindUnauthorized {
		t.Fatalf("error kind = %q, want %q", fault.KindOf(err), fault.KindUnauthorized)
	}
}

func TestUnknownAssistantIsNotFound(t *testing.T) {
	f := newFixture(t, &fixedClient{reply: "x"}, staticIndex{}, nil)

	req := TurnRequest{AssistantID: "ghost", UserID: "u1", UserName: "Uli", Prompt: "Hello"}
	_, err := f.orch.StartTurn(context.Background(), req)
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("error kind = %q, want %q", fault.KindOf(err), fault.KindNotFound)
	}
}
