// Package api provides the inspection HTTP handlers of the voice core.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voxcore/internal/cache"
	"github.com/ashureev/voxcore/internal/domain"
	"github.com/ashureev/voxcore/internal/latency"
	"github.com/ashureev/voxcore/internal/transport"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReasonerHealth reports the status of the remote reasoning service.
type ReasonerHealth interface {
	Health(ctx context.Context) (string, error)
}

// CacheStats exposes response cache counters.
type CacheStats interface {
	Stats() cache.Stats
}

// Handler serves health and diagnostics endpoints.
type Handler struct {
	store    Pinger
	reasoner ReasonerHealth
	recorder *latency.Recorder
	cache    CacheStats
	partial  transport.PartialDetector
	sessions *transport.SessionManager
	logger   *slog.Logger
}

// Deps are the collaborators of Handler. Nil fields disable the matching checks.
type Deps struct {
	Store    Pinger
	Reasoner ReasonerHealth
	Recorder *latency.Recorder
	Cache    CacheStats
	Partial  transport.PartialDetector
	Sessions *transport.SessionManager
	Logger   *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{
		store:    d.Store,
		reasoner: d.Reasoner,
		recorder: d.Recorder,
		cache:    d.Cache,
		partial:  d.Partial,
		sessions: d.Sessions,
		logger:   d.Logger,
	}
}

// RegisterRoutes registers inspection routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/diagnostics", h.Diagnostics)
		r.Get("/diagnostics/summary", h.DiagnosticsSummary)
		r.Get("/cache/stats", h.CacheStats)
		r.Post("/intent/partial", h.PartialIntent)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Health reports the state of the conversation store and the reasoning service. A
// failing store makes the service unhealthy; an unreachable reasoner only degrades it,
// since requests fall back to offline classification.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("Conversation store unhealthy", "error", err)
			checks["store"] = "error: " + err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}

	if h.reasoner != nil {
		rs, err := h.reasoner.Health(ctx)
		switch {
		case err != nil:
			h.logger.Warn("Reasoning service unreachable", "error", err)
			checks["reasoning"] = "error: " + err.Error()
			if status == "ok" {
				status = "degraded"
			}
		default:
			checks["reasoning"] = rs
		}
	} else {
		checks["reasoning"] = "disabled"
	}

	body := map[string]any{"status": status, "checks": checks}
	if h.sessions != nil {
		body["sessions"] = h.sessions.Count()
	}
	JSON(w, code, body)
}

// Diagnostics returns recorded traces matching the query parameters user_id, intent
// (comma separated), since (RFC 3339 time or a duration such as 5m), errors,
// clarification and limit.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		Error(w, http.StatusNotFound, "diagnostics disabled")
		return
	}
	f, err := parseFilter(r, time.Now())
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	records := h.recorder.Records(f)
	if records == nil {
		records = []latency.Record{}
	}
	JSON(w, http.StatusOK, map[string]any{"count": len(records), "records": records})
}

// DiagnosticsSummary returns aggregate statistics.
func (h *Handler) DiagnosticsSummary(w http.ResponseWriter, _ *http.Request) {
	if h.recorder == nil {
		Error(w, http.StatusNotFound, "diagnostics disabled")
		return
	}
	JSON(w, http.StatusOK, h.recorder.Summary())
}

// CacheStats returns response cache counters.
func (h *Handler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	if h.cache == nil {
		Error(w, http.StatusNotFound, "cache disabled")
		return
	}
	JSON(w, http.StatusOK, h.cache.Stats())
}

// PartialIntent predicts the intent of an unfinished utterance.
func (h *Handler) PartialIntent(w http.ResponseWriter, r *http.Request) {
	if h.partial == nil {
		Error(w, http.StatusNotFound, "partial detection disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	JSON(w, http.StatusOK, transport.DetectPartial(h.partial, body.Text))
}

func parseFilter(r *http.Request, now time.Time) (latency.Filter, error) {
	q := r.URL.Query()
	f := latency.Filter{UserID: q.Get("user_id")}

	if raw := q.Get("intent"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			kind, ok := domain.ParseIntentKind(strings.TrimSpace(name))
			if !ok {
				return f, fmt.Errorf("unknown intent %q", name)
			}
			f.Intents = append(f.Intents, kind)
		}
	}

	if raw := q.Get("since"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			f.Since = now.Add(-d)
		} else if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			f.Since = ts
		} else {
			return f, fmt.Errorf("invalid since %q", raw)
		}
	}

	var err error
	if f.ErrorsOnly, err = parseBool(q.Get("errors")); err != nil {
		return f, fmt.Errorf("invalid errors flag: %w", err)
	}
	if f.ClarificationOnly, err = parseBool(q.Get("clarification")); err != nil {
		return f, fmt.Errorf("invalid clarification flag: %w", err)
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = n
	}
	return f, nil
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
