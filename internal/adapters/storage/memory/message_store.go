package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agape-peninsula/counsel-api/internal/domain"
)

var errSessionExists = errors.New("session already exists")

// MessageStore is an in-memory implementation of domain.MessageStore.
// Sequence numbers are assigned under the store lock, so appends within a
// session are serialized while different sessions stay independent.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[domain.SessionToken][]*domain.Message
	byID     map[domain.MessageID]*domain.Message

	// AppendDelay, when set, sleeps between sequence assignment and
	// publication. Used by race tests to widen the append window.
	AppendDelay time.Duration
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[domain.SessionToken][]*domain.Message),
		byID:     make(map[domain.MessageID]*domain.Message),
	}
}

// cloneMessage copies a message including its Reactions map, so callers
// never share the map UpsertReaction mutates under the store lock.
func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	cp.Reactions = make(map[domain.UserID]domain.Reaction, len(m.Reactions))
	for user, r := range m.Reactions {
		cp.Reactions[user] = r
	}
	return &cp
}

func (s *MessageStore) AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *msg
	stored.ID = domain.MessageID(uuid.NewString())
	stored.Sequence = int64(len(s.messages[msg.SessionToken]) + 1)
	if stored.Reactions == nil {
		stored.Reactions = make(map[domain.UserID]domain.Reaction)
	}

	if s.AppendDelay > 0 {
		time.Sleep(s.AppendDelay)
	}

	s.messages[msg.SessionToken] = append(s.messages[msg.SessionToken], &stored)
	s.byID[stored.ID] = &stored

	return cloneMessage(&stored), nil
}

func (s *MessageStore) ListBySession(ctx context.Context, token domain.SessionToken) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[token]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (s *MessageStore) UpsertReaction(ctx context.Context, id domain.MessageID, user domain.UserID, kind domain.ReactionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}

	msg.Reactions[user] = domain.Reaction{Kind: kind, At: time.Now()}
	return nil
}
