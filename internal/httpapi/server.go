package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/google/uuid"

	"github.com/reverie-ai/reverie/internal/assistant"
	"github.com/reverie-ai/reverie/internal/chat"
	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/fault"
	"github.com/reverie-ai/reverie/internal/observability"
	"github.com/reverie-ai/reverie/internal/semantic"
)

type Orchestrator interface {
	StartTurn(ctx context.Context, req chat.TurnRequest) (*chat.Turn, error)
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	index        semantic.Index
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, index semantic.Index, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		index:        index,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin so other sites cannot drive a user's chat session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/chat/{assistantID}", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Post("/v1/assistants/{assistantID}/documents", s.handleAddDocument)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

// handleChat streams the assistant response as plain text chunks. Wire
// framing beyond chunked transfer is the client's business.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	assistantID := strings.TrimSpace(chi.URLParam(r, "assistantID"))
	if assistantID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing assistant id")
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	turn, err := s.orchestrator.StartTurn(r.Context(), chat.TurnRequest{
		AssistantID: assistantID,
		UserID:      strings.TrimSpace(r.Header.Get("X-User-ID")),
		UserName:    strings.TrimSpace(r.Header.Get("X-User-Name")),
		Prompt:      req.Prompt,
	})
	if err != nil {
		kind := fault.KindOf(err)
		if fault.HTTPStatus(kind) >= http.StatusInternalServerError {
			log.Printf("httpapi: turn failed: %v", err)
		}
		respondError(w, fault.HTTPStatus(kind), string(kind), fault.PublicMessage(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Turn-ID", turn.ID)
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for delta := range turn.Deltas() {
		if _, err := w.Write([]byte(delta)); err != nil {
			// Client went away; the request context cancellation tears the
			// stream down. Keep draining so the turn can settle.
			continue
		}
		if canFlush {
			flusher.Flush()
		}
	}

	if _, err := turn.Wait(); err != nil {
		// Headers are already on the wire; nothing to send but worth a trace.
		log.Printf("httpapi: turn %s ended with error: %v", turn.ID, err)
	}
}

type addDocumentRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// handleAddDocument ingests one document into the assistant's slice of the
// semantic index. Bulk ingestion stays in offline tooling; this endpoint
// exists so new background material can land without a restart.
func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	assistantID := strings.TrimSpace(chi.URLParam(r, "assistantID"))
	if assistantID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing assistant id")
		return
	}

	var req addDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	tag := assistant.Assistant{ID: assistantID}.SourceTag()
	if err := s.index.Add(r.Context(), id, req.Content, tag); err != nil {
		log.Printf("httpapi: document ingest failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal", "failed to index document")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type chatWSRequest struct {
	AssistantID string `json:"assistant_id"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	Prompt      string `json:"prompt"`
}

type chatWSEvent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

// handleChatWS runs one streamed turn per inbound websocket message.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(1 << 20)

	for {
		var req chatWSRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		turn, err := s.orchestrator.StartTurn(ctx, chat.TurnRequest{
			AssistantID: req.AssistantID,
			UserID:      req.UserID,
			UserName:    req.UserName,
			Prompt:      req.Prompt,
		})
		if err != nil {
			kind := fault.KindOf(err)
			if fault.HTTPStatus(kind) >= http.StatusInternalServerError {
				log.Printf("httpapi: ws turn failed: %v", err)
			}
			if writeErr := s.writeWSEvent(conn, chatWSEvent{Type: "error", Code: string(kind), Text: fault.PublicMessage(err)}); writeErr != nil {
				return
			}
			continue
		}

		for delta := range turn.Deltas() {
			if err := s.writeWSEvent(conn, chatWSEvent{Type: "delta", Text: delta}); err != nil {
				cancel()
				return
			}
		}

		text, err := turn.Wait()
		if err != nil {
			kind := fault.KindOf(err)
			if writeErr := s.writeWSEvent(conn, chatWSEvent{Type: "error", Code: string(kind), Text: fault.PublicMessage(err)}); writeErr != nil {
				return
			}
			continue
		}
		if err := s.writeWSEvent(conn, chatWSEvent{Type: "done", Text: text}); err != nil {
			return
		}
	}
}

func (s *Server) writeWSEvent(conn *websocket.Conn, ev chatWSEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(ev)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
