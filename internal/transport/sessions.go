package transport

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the open websocket of every user session. A second connection
// for the same session replaces and closes the first.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewSessionManager creates an empty registry.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

func (m *SessionManager) lookup(userID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds conn for a user session, closing any connection it replaces.
func (m *SessionManager) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[userID][sessionID] = conn
	m.logger.Info("Voice session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the registered connection of the session.
func (m *SessionManager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}
	if current, exists := sessions[sessionID]; exists && current == conn {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
		m.logger.Info("Voice session unregistered", "user_id", userID, "session_id", sessionID)
	}
}

// CloseAll closes every open session, for shutdown. Hijacked websocket connections
// are not closed by http.Server.Shutdown.
func (m *SessionManager) CloseAll() int {
	m.mu.Lock()
	var conns []*websocket.Conn
	for _, sessions := range m.active {
		for _, conn := range sessions {
			conns = append(conns, conn)
		}
	}
	clear(m.active)
	m.mu.Unlock()

	// Close waits for the peer's close frame.
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}()
	}
	wg.Wait()
	m.logger.Info("Voice sessions closed", "count", len(conns))
	return len(conns)
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
