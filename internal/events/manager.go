package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Manager manages all subscription sessions, one per connection ID
type Manager struct {
	sessions map[string]*ClientSession
	registry *Registry
	mu       sync.RWMutex
	maxSubs  int
	logger   zerolog.Logger
}

// NewManager creates a new subscription Manager
func NewManager(registry *Registry, maxSubs int, logger zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*ClientSession),
		registry: registry,
		maxSubs:  maxSubs,
		logger:   logger.With().Str("component", "subscription").Logger(),
	}
}

// GetOrCreateSession gets or creates a session for the given connection
func (m *Manager) GetOrCreateSession(connID string, sendFunc SendFunc) *ClientSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[connID]; ok {
		return session
	}

	session := NewClientSession(sendFunc, m.registry, m.maxSubs, m.logger.With().Str("conn", connID).Logger())
	m.sessions[connID] = session
	m.logger.Debug().Str("conn", connID).Msg("created new client session")
	return session
}

// GetSession returns the session for the given connection
func (m *Manager) GetSession(connID string) *ClientSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[connID]
}

// RemoveSession removes and closes a session
func (m *Manager) RemoveSession(connID string) {
	m.mu.Lock()
	session, ok := m.sessions[connID]
	if ok {
		delete(m.sessions, connID)
	}
	m.mu.Unlock()

	if session != nil {
		session.Close()
		m.logger.Debug().Str("conn", connID).Msg("removed client session")
	}
}

// Subscribe creates a subscription for a client
func (m *Manager) Subscribe(connID string, sendFunc SendFunc, subType SubscriptionType, filter Filter) (string, error) {
	return m.GetOrCreateSession(connID, sendFunc).Subscribe(subType, filter)
}

// Unsubscribe removes a subscription. It reports whether one was removed.
func (m *Manager) Unsubscribe(connID string, subID string) bool {
	session := m.GetSession(connID)
	if session == nil {
		return false
	}
	return session.Unsubscribe(subID) == nil
}

// CloseAll closes all sessions
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*ClientSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*ClientSession)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	m.logger.Info().Int("sessions", len(sessions)).Msg("closed all sessions")
}

// GetSessionCount returns the number of active sessions
func (m *Manager) GetSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetTotalSubscriptionCount returns the total number of subscriptions across all sessions
func (m *Manager) GetTotalSubscriptionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, session := range m.sessions {
		total += session.GetSubscriptionCount()
	}
	return total
}
