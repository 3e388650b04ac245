package server

import (
	"context"
	"sync"
)

// SessionManager tracks open execution streams so shutdown can cancel
// their in-flight runs.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]context.CancelFunc
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]context.CancelFunc),
	}
}

// Add registers a stream under id.
func (sm *SessionManager) Add(id string, cancel context.CancelFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[id] = cancel
}

// Remove forgets a stream without canceling it.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

// Len is the number of open streams.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// CloseAll cancels every open stream.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, cancel := range sm.sessions {
		cancel()
		delete(sm.sessions, id)
	}
}
