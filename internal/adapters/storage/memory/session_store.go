package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/agape-peninsula/counsel-api/internal/domain"
)

// SessionStore is an in-memory implementation of domain.SessionStore.
// Not persistent; suitable for development and tests.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionToken]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionToken]*domain.Session),
	}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.Token]; exists {
		return &domain.StoreError{Op: "CreateSession", Err: errSessionExists}
	}

	cp := *session
	s.sessions[session.Token] = &cp
	return nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.Token]; !exists {
		return domain.ErrNotFound
	}

	cp := *session
	s.sessions[session.Token] = &cp
	return nil
}

func (s *SessionStore) FindSession(ctx context.Context, token domain.SessionToken, owner domain.UserID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok || sess.OwnerID != owner {
		return nil, domain.ErrNotFound
	}

	cp := *sess
	return &cp, nil
}

func (s *SessionStore) ListSessions(ctx context.Context, owner domain.UserID, offset, limit int) ([]*domain.Session, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*domain.Session
	for _, sess := range s.sessions {
		if sess.OwnerID == owner && !sess.Archived {
			cp := *sess
			all = append(all, &cp)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].LastMessageAt.After(all[j].LastMessageAt)
	})

	total := len(all)
	if offset >= total {
		return []*domain.Session{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
