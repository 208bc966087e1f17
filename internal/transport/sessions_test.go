package transport

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
)

func TestSessionManager_RegisterUnregister(t *testing.T) {
	t.Parallel()

	sm := NewSessionManager(nil)
	conn := &websocket.Conn{}

	sm.Register("user123", "tab-1", conn)
	assert.Same(t, conn, sm.lookup("user123", "tab-1"))
	assert.Equal(t, 1, sm.Count())

	sm.Unregister("user123", "tab-1", conn)
	assert.Nil(t, sm.lookup("user123", "tab-1"))
	assert.Equal(t, 0, sm.Count())
}

func TestSessionManager_UnregisterStale(t *testing.T) {
	t.Parallel()

	sm := NewSessionManager(nil)
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	sm.Register("user123", "tab-1", conn1)
	sm.Register("user123", "tab-2", conn2)
	sm.Unregister("user123", "tab-2", conn1)

	assert.Same(t, conn2, sm.lookup("user123", "tab-2"), "a stale conn must not evict the current one")
	assert.Equal(t, 2, sm.Count())
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	sm := NewSessionManager(nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := &websocket.Conn{}
			sid := "tab-" + strconv.Itoa(i)
			sm.Register("user123", sid, conn)
			_ = sm.lookup("user123", sid)
			sm.Unregister("user123", sid, conn)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, sm.Count())
}
