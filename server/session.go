package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTimeout is how long an idle session stays valid before it
// is reclaimed.
const DefaultSessionTimeout = 60 * time.Second

// Session represents an authorized client session.
type Session struct {
	Token     string
	CreatedAt time.Time
	LastSeen  time.Time
}

// SessionManager issues and validates session tokens for WebSocket clients.
// When an API secret is configured, clients must present it to acquire a
// token; with no secret, any client may acquire one.
type SessionManager struct {
	mu       sync.Mutex
	secret   string
	timeout  time.Duration
	sessions map[string]*Session
}

// NewSessionManager creates a session manager. An empty secret disables the
// handshake check. A non-positive timeout falls back to the default.
func NewSessionManager(secret string, timeout time.Duration) *SessionManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionManager{
		secret:   secret,
		timeout:  timeout,
		sessions: make(map[string]*Session),
	}
}

// Acquire validates the presented secret and issues a new session token.
func (m *SessionManager) Acquire(secret string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.secret != "" && secret != m.secret {
		return "", fmt.Errorf("invalid API secret")
	}

	m.reapLocked()

	token := uuid.New().String()
	now := time.Now()
	m.sessions[token] = &Session{
		Token:     token,
		CreatedAt: now,
		LastSeen:  now,
	}
	return token, nil
}

// Validate checks a token and refreshes its idle timer.
func (m *SessionManager) Validate(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return false
	}
	if time.Since(s.LastSeen) > m.timeout {
		delete(m.sessions, token)
		return false
	}
	s.LastSeen = time.Now()
	return true
}

// Release discards a session token.
func (m *SessionManager) Release(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// Count returns the number of live sessions, reaping expired ones first.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()
	return len(m.sessions)
}

// reapLocked drops sessions idle beyond the timeout. Caller holds mu.
func (m *SessionManager) reapLocked() {
	now := time.Now()
	for token, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.timeout {
			delete(m.sessions, token)
		}
	}
}
