package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager maintains the registry of active sessions keyed by username.
// A user may hold several concurrent connections; deliveries go to all of
// them.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	logger   *zap.Logger
}

// NewManager creates a new Manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]map[*Session]struct{}),
		logger:   logger,
	}
}

// Register adds a session to the user's active set.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sessions[s.Username]
	if !ok {
		set = make(map[*Session]struct{})
		m.sessions[s.Username] = set
	}
	set[s] = struct{}{}
	m.logger.Info("session registered",
		zap.String("username", s.Username),
		zap.Int("active", len(set)))
}

// Unregister removes a session from the user's active set.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sessions[s.Username]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(m.sessions, s.Username)
	}
	m.logger.Info("session unregistered", zap.String("username", s.Username))
}

// SessionsFor returns a snapshot of the user's active sessions.
func (m *Manager) SessionsFor(username string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.sessions[username]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// IsOnline reports whether a user has at least one active session.
func (m *Manager) IsOnline(username string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[username]) > 0
}

// OnlineUsers returns a snapshot of usernames with at least one session.
func (m *Manager) OnlineUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for u := range m.sessions {
		out = append(out, u)
	}
	return out
}

// Count returns the number of currently connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, set := range m.sessions {
		n += len(set)
	}
	return n
}

// CloseUser closes every session of a user. Returns the number closed.
func (m *Manager) CloseUser(username string) int {
	sessions := m.SessionsFor(username)
	for _, s := range sessions {
		s.Close()
	}
	return len(sessions)
}

// CloseAll gracefully closes all connected sessions and waits for them to
// drain, up to a timeout.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0)
	for _, set := range m.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	m.logger.Info("closing all sessions", zap.Int("count", len(all)))
	for _, s := range all {
		s.Close()
	}

	maxWait := 10 * time.Second
	start := time.Now()
	for time.Since(start) < maxWait {
		if m.Count() == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}
