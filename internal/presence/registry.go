// Package presence tracks which users currently hold a live realtime
// connection. The Registry is the process-local source of truth used for
// delivery targeting; the Mirror keeps a best-effort copy in Redis so that
// other gateway instances (and ops tooling) can see who is online where.
package presence

import "sync"

// Conn is the minimal connection surface the registry needs. *ws.Connection
// satisfies it.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Registry is a thread-safe map from user identity to the active connection.
// Registration is last-connect-wins: a reconnect displaces the previous
// connection for the same user. Reads may be stale — a delivery to a
// just-closed connection is swallowed, not retried; the message is already
// durably appended.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register associates conn with userID, overwriting any prior mapping.
// It returns the displaced connection (nil if none) so the caller can close
// the stale transport.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()
	if prev == conn {
		return nil
	}
	return prev
}

// Lookup returns the live connection for userID, or nil if the user has no
// registered connection.
func (r *Registry) Lookup(userID string) Conn {
	r.mu.RLock()
	conn := r.conns[userID]
	r.mu.RUnlock()
	return conn
}

// Unregister removes the mapping for userID. Unregistering an absent user is
// a no-op, not an error.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	delete(r.conns, userID)
	r.mu.Unlock()
}

// UnregisterConn removes the mapping only if it still points at conn, and
// reports whether it did. This keeps a close racing with a reconnect from
// tearing down the fresh connection's registration.
func (r *Registry) UnregisterConn(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[userID] != conn {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Count returns the number of users with a registered connection.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}
