// Package identity tells which device and which voice session a request comes from.
//
// Devices are anonymous. A device is a random id held in a long-lived cookie, and
// nothing about it is stored server side. The session id names one conversation on
// that device, such as a browser tab or a kitchen speaker, and scopes its dialog state.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName        = "vox_anon_id"
	SessionHeaderName     = "X-Vox-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"

	deviceCookieMaxAge = 30 * 24 * time.Hour
)

var (
	deviceIDPattern  = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Caller is the device and session behind a request.
type Caller struct {
	UserID    string
	SessionID string
	RemoteIP  string
}

// LogValue groups the caller's fields in log records.
func (c Caller) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.String("session_id", c.SessionID),
		slog.String("ip", c.RemoteIP),
	)
}

type callerKey struct{}

// NewContext returns ctx carrying c. The session id is normalised as the middleware
// would normalise it.
func NewContext(ctx context.Context, c Caller) context.Context {
	c.SessionID = normalizeSessionID(c.SessionID)
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext returns the caller set by Middleware or NewContext.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || c.UserID == "" {
		return Caller{}, false
	}
	return c, true
}

// Middleware attaches the Caller of every request, issuing a device cookie to new
// devices and replacing cookies that do not look like one we issued.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, err := deviceFromCookie(r)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			// Refreshed on every request so active devices keep their id.
			http.SetCookie(w, deviceCookie(deviceID, isDev))

			ctx := NewContext(r.Context(), Caller{
				UserID:    deviceID,
				SessionID: sessionFromRequest(r),
				RemoteIP:  remoteIP(r),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func deviceFromCookie(r *http.Request) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && deviceIDPattern.MatchString(c.Value) {
		return c.Value, nil
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func deviceCookie(id string, isDev bool) *http.Cookie {
	return &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	}
}

// sessionFromRequest reads the session id from the header, or from the query string
// for websocket upgrades where browsers cannot set headers.
func sessionFromRequest(r *http.Request) string {
	if sid := r.Header.Get(SessionHeaderName); sid != "" {
		return sid
	}
	return r.URL.Query().Get(SessionQueryParam)
}

func normalizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
