package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Machine
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Machine),
	}
}

func (s *SessionStore) Get(gameID string) (*app.Machine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sessions[gameID]
	return m, ok
}

// Put never fails: a process-local registry has no other owners to lose to.
func (s *SessionStore) Put(_ context.Context, gameID string, m *app.Machine) (*app.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[gameID]; ok {
		return existing, nil
	}
	s.sessions[gameID] = m
	return m, nil
}

func (s *SessionStore) Remove(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, gameID)
}

// Len reports how many games are live.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
