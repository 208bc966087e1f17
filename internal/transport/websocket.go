package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/voxcore/internal/identity"
	"github.com/ashureev/voxcore/internal/stream"
)

// WebSocketHandler serves bidirectional voice sessions on /ws.
type WebSocketHandler struct {
	pipeline      Pipeline
	canceller     Canceller
	partial       PartialDetector
	sm            *SessionManager
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// WebSocketConfig wires a WebSocketHandler.
type WebSocketConfig struct {
	Pipeline      Pipeline
	Canceller     Canceller
	Partial       PartialDetector
	Sessions      *SessionManager
	Limiter       *RateLimiter
	AllowedOrigin string
	IsDev         bool
	Logger        *slog.Logger
}

// NewWebSocketHandler creates a websocket handler.
func NewWebSocketHandler(cfg WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		pipeline:      cfg.Pipeline,
		canceller:     cfg.Canceller,
		partial:       cfg.Partial,
		sm:            cfg.Sessions,
		limiter:       cfg.Limiter,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
		logger:        cfg.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.sm == nil {
		h.sm = NewSessionManager(h.logger)
	}
	return h
}

// wsConn serialises writes to one websocket.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Send implements stream.Sink.
func (c *wsConn) Send(ctx context.Context, ev stream.Event) error {
	return c.writeJSON(ctx, ev)
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	userID, sessionID := caller.UserID, caller.SessionID
	h.logger.Info("WebSocket connection request", "caller", caller)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &wsConn{conn: ws}
	var inflight sync.WaitGroup
	h.inputLoop(ctx, conn, userID, sessionID, &inflight)

	cancel()
	inflight.Wait()
	h.logger.Info("Voice session ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, conn *wsConn, userID, sessionID string, inflight *sync.WaitGroup) {
	for {
		_, data, err := conn.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.writeJSON(ctx, errorMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case msgUtterance:
			if strings.TrimSpace(msg.Text) == "" {
				_ = conn.writeJSON(ctx, errorMessage{Type: "error", Error: "text is required"})
				continue
			}
			if h.limiter != nil && !h.limiter.Allow(userID) {
				_ = conn.writeJSON(ctx, errorMessage{Type: "error", Error: "rate limit exceeded"})
				continue
			}
			req := msg.request(userID, sessionID)

			inflight.Add(1)
			go func() {
				defer inflight.Done()
				if _, err := h.pipeline.Handle(ctx, req, conn); err != nil {
					h.logger.Debug("Utterance not completed", "user_id", userID, "error", err)
				}
			}()
		case msgPartial:
			if h.partial == nil {
				continue
			}
			if err := conn.writeJSON(ctx, DetectPartial(h.partial, msg.Text)); err != nil {
				h.logger.Debug("Failed to send partial intent", "error", err)
			}
		case msgCancel:
			cancelled := h.canceller != nil && h.canceller.CancelUser(userID)
			h.logger.Info("Cancel requested", "user_id", userID, "cancelled", cancelled)
		case msgPing:
			if err := conn.writeJSON(ctx, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		default:
			_ = conn.writeJSON(ctx, errorMessage{Type: "error", Error: "unknown message type"})
		}
	}
}
