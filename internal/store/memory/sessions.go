package memory

import (
	"context"
	"sync"
	"time"

	"accountserver/internal/auth"
	"accountserver/internal/domain"
)

type Sessions struct {
	mu       sync.Mutex
	sessions map[string]domain.SessionRecord
}

func NewSessions() *Sessions {
	return &Sessions{sessions: map[string]domain.SessionRecord{}}
}

func (s *Sessions) CreateSession(_ context.Context, accountID int64, expiresAt time.Time, _, _ string) (string, error) {
	id, err := auth.NewSessionID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = domain.SessionRecord{ID: id, AccountID: accountID, ExpiresAt: expiresAt}
	return id, nil
}

func (s *Sessions) GetSession(_ context.Context, sessionID string) (domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return domain.SessionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *Sessions) DeleteSession(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return false, nil
	}
	delete(s.sessions, sessionID)
	return true, nil
}

// Put stores rec as is. Tests use it to plant expired sessions.
func (s *Sessions) Put(rec domain.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
}
