package transport

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/voxcore/internal/identity"
)

type sseFrame struct {
	event string
	data  map[string]any
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data))
		case line == "":
			frames = append(frames, cur)
			cur = sseFrame{}
		}
	}
	return frames
}

func newSSERouter(p *fakePipeline, c *fakeCanceller, limit int, maxBody int64) http.Handler {
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewSSEHandler(p, c, NewRateLimiter(limit, time.Minute), maxBody, nil).RegisterRoutes(r)
	return r
}

func TestSSE_StreamsEvents(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	router := newSSERouter(p, &fakeCanceller{}, 10, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"what time is it","message_id":"m7"}`))
	req.Header.Set(identity.SessionHeaderName, "kitchen")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "ack", frames[0].event)
	assert.Equal(t, "m7", frames[0].data["message_id"])
	assert.Equal(t, "token", frames[1].event)
	assert.Equal(t, "It's 3:04 PM.", frames[1].data["content"])
	assert.Equal(t, "end", frames[2].event)

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "kitchen", reqs[0].SessionID)
}

func TestSSE_AcceptsTextField(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	router := newSSERouter(p, &fakeCanceller{}, 10, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"text":"hello"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, p.Requests(), 1)
	assert.Equal(t, "hello", p.Requests()[0].Text)
}

func TestSSE_RejectsBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		maxBody int64
		want    int
	}{
		{"invalid json", `{`, 0, http.StatusBadRequest},
		{"empty message", `{"message":"   "}`, 0, http.StatusBadRequest},
		{"too large", `{"message":"` + strings.Repeat("a", 64) + `"}`, 16, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &fakePipeline{}
			rec := httptest.NewRecorder()
			newSSERouter(p, &fakeCanceller{}, 10, tt.maxBody).ServeHTTP(rec,
				httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, p.Requests())
		})
	}
}

func TestSSE_RateLimited(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	router := newSSERouter(p, &fakeCanceller{}, 1, 0)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`)))
	require.Equal(t, http.StatusOK, first.Code)

	// Reuse the issued identity so both requests count against the same user.
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	for _, c := range first.Result().Cookies() {
		req.AddCookie(c)
	}
	second := httptest.NewRecorder()
	router.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestSSE_Cancel(t *testing.T) {
	t.Parallel()
	c := &fakeCanceller{}
	router := newSSERouter(&fakePipeline{}, c, 10, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/cancel", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got["cancelled"])
	assert.Len(t, c.Users(), 1)
}
