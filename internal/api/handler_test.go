//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/voxcore/internal/cache"
	"github.com/ashureev/voxcore/internal/domain"
	"github.com/ashureev/voxcore/internal/intent"
	"github.com/ashureev/voxcore/internal/latency"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type reasoner struct {
	status string
	err    error
}

func (r reasoner) Health(context.Context) (string, error) { return r.status, r.err }

type stats cache.Stats

func (s stats) Stats() cache.Stats { return cache.Stats(s) }

func do(t *testing.T, h *Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return rec, out
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		deps       Deps
		wantCode   int
		wantStatus string
	}{
		{"all ok", Deps{Store: pinger{}, Reasoner: reasoner{status: "SERVING"}}, http.StatusOK, "ok"},
		{"no reasoner", Deps{Store: pinger{}}, http.StatusOK, "ok"},
		{"reasoner down", Deps{Store: pinger{}, Reasoner: reasoner{err: errors.New("unavailable")}}, http.StatusOK, "degraded"},
		{"store down", Deps{Store: pinger{err: errors.New("disk gone")}, Reasoner: reasoner{status: "SERVING"}}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, body := do(t, NewHandler(tt.deps), http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()

	rec := latency.NewRecorder(10)
	base := time.Now().Add(-time.Hour)
	rec.Record(latency.Record{Timestamp: base, UserID: "u1", Intent: domain.KindTimeQuery})
	rec.Record(latency.Record{Timestamp: base.Add(50 * time.Minute), UserID: "u1", Intent: domain.KindWeather, Errors: []string{"remote failed"}})
	rec.Record(latency.Record{Timestamp: base.Add(55 * time.Minute), UserID: "u2", Intent: domain.KindJoke, NeedsClarification: true})
	h := NewHandler(Deps{Recorder: rec})

	tests := []struct {
		query string
		want  float64
	}{
		{"", 3},
		{"?user_id=u1", 2},
		{"?intent=weather,joke", 2},
		{"?errors=true", 1},
		{"?clarification=1", 1},
		{"?since=30m", 2},
		{"?since=" + base.Add(52*time.Minute).UTC().Format(time.RFC3339), 1},
		{"?limit=1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			code, body := do(t, h, http.MethodGet, "/api/diagnostics"+tt.query, "")
			require.Equal(t, http.StatusOK, code.Code)
			assert.Equal(t, tt.want, body["count"])
		})
	}

	for _, bad := range []string{"?intent=dance", "?since=yesterday", "?errors=maybe", "?limit=-2"} {
		code, body := do(t, h, http.MethodGet, "/api/diagnostics"+bad, "")
		assert.Equal(t, http.StatusBadRequest, code.Code, bad)
		assert.NotEmpty(t, body["error"])
	}
}

func TestDiagnosticsSummary(t *testing.T) {
	t.Parallel()

	rec := latency.NewRecorder(10)
	rec.Record(latency.Record{UserID: "u1", Intent: domain.KindTimeQuery, Provenance: domain.ProvenanceFast})
	rec.Record(latency.Record{UserID: "u1", Intent: domain.KindTimeQuery, Provenance: domain.ProvenanceFast, Errors: []string{"x"}})

	code, body := do(t, NewHandler(Deps{Recorder: rec}), http.MethodGet, "/api/diagnostics/summary", "")
	require.Equal(t, http.StatusOK, code.Code)
	assert.Equal(t, float64(2), body["total"])
	assert.InDelta(t, 0.5, body["error_rate"], 1e-9)
}

func TestDisabledEndpoints(t *testing.T) {
	t.Parallel()
	h := NewHandler(Deps{})
	for _, target := range []string{"/api/diagnostics", "/api/diagnostics/summary", "/api/cache/stats"} {
		code, _ := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, code.Code, target)
	}
	code, _ := do(t, h, http.MethodPost, "/api/intent/partial", `{"text":"tell me"}`)
	assert.Equal(t, http.StatusNotFound, code.Code)
}

func TestCacheStats(t *testing.T) {
	t.Parallel()

	code, body := do(t, NewHandler(Deps{Cache: stats{Hits: 3, Misses: 1, Size: 2, Capacity: 100}}), http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, code.Code)
	assert.Equal(t, float64(3), body["hits"])
	assert.Equal(t, float64(100), body["capacity"])
}

func TestPartialIntent(t *testing.T) {
	t.Parallel()
	h := NewHandler(Deps{Partial: intent.New()})

	code, body := do(t, h, http.MethodPost, "/api/intent/partial", `{"text":"tell me a"}`)
	require.Equal(t, http.StatusOK, code.Code)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, "joke", body["intent"])
	assert.Equal(t, []any{"fact"}, body["alternatives"])

	code, _ = do(t, h, http.MethodPost, "/api/intent/partial", `nope`)
	assert.Equal(t, http.StatusBadRequest, code.Code)
}
