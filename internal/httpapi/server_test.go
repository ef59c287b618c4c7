package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reverie-ai/reverie/internal/assistant"
	"github.com/reverie-ai/reverie/internal/chat"
	"github.com/reverie-ai/reverie/internal/completion"
	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/history"
	"github.com/reverie-ai/reverie/internal/observability"
	"github.com/reverie-ai/reverie/internal/ratelimit"
	"github.com/reverie-ai/reverie/internal/semantic"
	"github.com/reverie-ai/reverie/internal/transcript"
)

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *Server {
	t.Helper()

	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	index, err := semantic.NewChromemIndex(semantic.Config{Collection: "test"})
	if err != nil {
		t.Fatalf("NewChromemIndex() error = %v", err)
	}
	catalog := assistant.NewStaticCatalog(assistant.Assistant{
		ID:           "nova",
		Name:         "Nova",
		Instructions: "You are Nova.",
		Seed:         "Hi.\n\nI'm Nova.",
	})

	orch := chat.NewOrchestrator(
		limiter,
		history.NewInMemoryStore(),
		index,
		completion.NewMockClient(),
		catalog,
		transcript.NewMemorySink(),
		metrics,
		chat.Options{Model: "llama2-13b"},
	)

	return New(config.Config{}, orch, index, metrics)
}

func postChat(t *testing.T, srv *httptest.Server, assistantID, userID, prompt string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/"+assistantID, strings.NewReader(`{"prompt":"`+prompt+`"}`))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Name", "Uli")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return resp, string(body)
}

func TestChatStreamsResponse(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil).Router())
	defer srv.Close()

	resp, body := postChat(t, srv, "nova", "u1", "Hello")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Turn-ID") == "" {
		t.Fatalf("missing X-Turn-ID header")
	}
	if strings.TrimSpace(body) == "" {
		t.Fatalf("empty streamed body")
	}
}

func TestChatWithoutIdentityIsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil).Router())
	defer srv.Close()

	resp, _ := postChat(t, srv, "nova", "", "Hello")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestChatUnknownAssistantIsNotFound(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil).Router())
	defer srv.Close()

	resp, _ := postChat(t, srv, "ghost", "u1", "Hello")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatRateLimited(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, ratelimit.New(time.Minute, 1)).Router())
	defer srv.Close()

	if resp, body := postChat(t, srv, "nova", "u1", "One"); resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, body = %s", resp.StatusCode, body)
	}
	resp, body := postChat(t, srv, "nova", "u1", "Two")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", resp.StatusCode)
	}
	if strings.Contains(body, "window") {
		t.Fatalf("rate limit response leaked internals: %s", body)
	}
}

func TestAddDocument(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/assistants/nova/documents", "application/json",
		strings.NewReader(`{"content":"Nova grew up by the sea."}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "id") {
		t.Fatalf("response missing id: %s", body)
	}

	resp, err = http.Post(srv.URL+"/v1/assistants/nova/documents", "application/json",
		strings.NewReader(`{"content":"  "}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank content status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil).Router())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestPerfLatencySnapshot(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "window_size") {
		t.Fatalf("unexpected snapshot body: %s", body)
	}
}
