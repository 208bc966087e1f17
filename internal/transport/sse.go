package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voxcore/internal/identity"
	"github.com/ashureev/voxcore/internal/stream"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
	Mode      string `json:"mode"`
}

func (c ChatRequest) text() string {
	if c.Message != "" {
		return c.Message
	}
	return c.Text
}

// SSEHandler streams replies to HTTP clients as server-sent events.
type SSEHandler struct {
	pipeline    Pipeline
	canceller   Canceller
	limiter     *RateLimiter
	maxBodySize int64
	logger      *slog.Logger
}

// NewSSEHandler creates an SSE chat handler. A non-positive maxBodySize uses 1MB.
func NewSSEHandler(pipeline Pipeline, canceller Canceller, limiter *RateLimiter, maxBodySize int64, logger *slog.Logger) *SSEHandler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{
		pipeline:    pipeline,
		canceller:   canceller,
		limiter:     limiter,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// RegisterRoutes registers chat routes.
func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.HandleChat)
		r.Post("/cancel", h.HandleCancel)
	})
}

// HandleChat handles POST /api/chat.
func (h *SSEHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	userID, sessionID := caller.UserID, caller.SessionID

	// Rate-limit by userID only so clients cannot bypass throttling by rotating sessions.
	if h.limiter != nil && !h.limiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var body ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(body.text())
	if text == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.logger.Info("Chat request",
		"user_id", userID,
		"session_id", sessionID,
		"message_length", len(text),
	)

	msg := inbound{Type: msgUtterance, Text: text, MessageID: body.MessageID, Mode: body.Mode}
	sink := &sseSink{w: w, flusher: flusher}
	if _, err := h.pipeline.Handle(r.Context(), msg.request(userID, sessionID), sink); err != nil {
		h.logger.Debug("Chat request not completed", "user_id", userID, "error", err)
	}
}

// HandleCancel handles POST /api/chat/cancel.
func (h *SSEHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	userID := caller.UserID
	cancelled := h.canceller != nil && h.canceller.CancelUser(userID)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]bool{"cancelled": cancelled}); err != nil {
		h.logger.Warn("failed to encode cancel response", "error", err)
	}
}

type sseSink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// Send implements stream.Sink.
func (s *sseSink) Send(_ context.Context, ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeSSE(s.w, string(ev.Type), string(data)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
