// Package channel serves training sessions over WebSocket.
package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the live WebSocket of every attached session so they can
// be drained and closed together on shutdown.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
	// done is closed when the handler serving the connection unregisters it.
	done map[*websocket.Conn]chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]*websocket.Conn),
		done:   make(map[*websocket.Conn]chan struct{}),
	}
}

// GetActive returns the connection attached to a session.
func (m *Registry) GetActive(sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sessionID]
}

// Register records conn as the session's connection and returns the one it
// replaced, if any.
func (m *Registry) Register(sessionID string, conn *websocket.Conn) *websocket.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active[sessionID]
	m.active[sessionID] = conn
	if _, ok := m.done[conn]; !ok {
		m.done[conn] = make(chan struct{})
	}
	if prev == conn {
		prev = nil
	}
	slog.Debug("Session socket registered", "session_id", sessionID, "replaced", prev != nil)
	return prev
}

// Unregister marks conn finished and removes it if it is still the
// session's connection.
func (m *Registry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.done[conn]; ok {
		close(ch)
		delete(m.done, conn)
	}
	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
		slog.Debug("Session socket unregistered", "session_id", sessionID)
	}
}

// Len returns the number of registered connections.
func (m *Registry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Drain waits until every connection registered when it was called has been
// unregistered, or ctx is done. Handlers unregister once their final frames
// are written, so draining after sessions end lets session_ended reach
// clients before CloseAll.
func (m *Registry) Drain(ctx context.Context) error {
	m.mu.RLock()
	pending := make([]chan struct{}, 0, len(m.done))
	for _, ch := range m.done {
		pending = append(pending, ch)
	}
	m.mu.RUnlock()

	for _, ch := range pending {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CloseAll closes every registered connection with the given status.
func (m *Registry) CloseAll(code websocket.StatusCode, reason string) int {
	m.mu.Lock()
	conns := m.active
	m.active = make(map[string]*websocket.Conn)
	m.mu.Unlock()

	for sid, conn := range conns {
		_ = conn.Close(code, reason)
		slog.Info("Session socket closed", "session_id", sid, "reason", reason)
	}
	return len(conns)
}
