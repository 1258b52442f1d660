// ABOUTME: Tracks relay sessions by address and picks one per delivery
// ABOUTME: Several sessions may share an address; delivery rotates round-robin among them

package relay

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrSessionAlreadyRegistered indicates a session with the same ID is already registered.
var ErrSessionAlreadyRegistered = errors.New("session already registered")

// ErrNoSession indicates no session is registered for an address.
var ErrNoSession = errors.New("no session for address")

// SessionManager coordinates registered sessions.
type SessionManager struct {
	byAddress map[string][]*Session
	byID      map[string]*Session
	next      map[string]*atomic.Uint64
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		byAddress: make(map[string][]*Session),
		byID:      make(map[string]*Session),
		next:      make(map[string]*atomic.Uint64),
		logger:    logger,
	}
}

// Register adds a session. Returns ErrSessionAlreadyRegistered if its ID exists.
func (m *SessionManager) Register(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[s.ID]; exists {
		return ErrSessionAlreadyRegistered
	}

	m.byID[s.ID] = s
	m.byAddress[s.Address] = append(m.byAddress[s.Address], s)
	if m.next[s.Address] == nil {
		m.next[s.Address] = &atomic.Uint64{}
	}
	m.logger.Info("session registered",
		"session_id", s.ID,
		"address", s.Address,
		"sessions_for_address", len(m.byAddress[s.Address]),
		"total_sessions", len(m.byID),
	)
	return nil
}

// Unregister removes a session.
func (m *SessionManager) Unregister(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.byID[sessionID]
	if !exists {
		return
	}
	delete(m.byID, sessionID)

	list := m.byAddress[s.Address]
	for i, other := range list {
		if other.ID == sessionID {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.byAddress, s.Address)
		delete(m.next, s.Address)
	} else {
		m.byAddress[s.Address] = list
	}

	m.logger.Info("session unregistered",
		"session_id", sessionID,
		"address", s.Address,
		"total_sessions", len(m.byID),
	)
}

// Select picks the next session for address, rotating between sessions
// that share it.
func (m *SessionManager) Select(address string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.byAddress[address]
	if len(list) == 0 {
		return nil, ErrNoSession
	}
	idx := m.next[address].Add(1) - 1
	return list[idx%uint64(len(list))], nil
}

// Get returns the session with the given ID.
func (m *SessionManager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.byID[sessionID]
	return s, ok
}

// IsOnline reports whether any session is registered for address.
func (m *SessionManager) IsOnline(address string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byAddress[address]) > 0
}

// Addresses returns every registered address, sorted.
func (m *SessionManager) Addresses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.byAddress))
	for addr := range m.byAddress {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
