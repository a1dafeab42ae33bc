package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agape-peninsula/counsel-api/internal/domain"
)

// Store persists sessions and messages in Firestore: one document per
// session keyed by its token, with messages in a subcollection. The
// per-session sequence is a message_count field on the session document,
// incremented in the same transaction that writes the message, so
// sequences stay gapless under concurrent writers.
type Store struct {
	client *firestore.Client
}

func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection("sessions")
}

func (s *Store) sessionDoc(token domain.SessionToken) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(token))
}

func (s *Store) messagesCol(token domain.SessionToken) *firestore.CollectionRef {
	return s.sessionDoc(token).Collection("messages")
}

type sessionDoc struct {
	OwnerID       string    `firestore:"owner_id"`
	Title         string    `firestore:"title"`
	Track         string    `firestore:"track"`
	Status        string    `firestore:"status"`
	Summary       string    `firestore:"summary"`
	Goals         []string  `firestore:"goals"`
	Tags          []string  `firestore:"tags"`
	Archived      bool      `firestore:"archived"`
	MessageCount  int64     `firestore:"message_count"`
	LastMessageAt time.Time `firestore:"last_message_at"`
	CreatedAt     time.Time `firestore:"created_at"`
	UpdatedAt     time.Time `firestore:"updated_at"`
}

type messageDoc struct {
	MessageID    string                 `firestore:"message_id"`
	SessionToken string                 `firestore:"session_token"`
	OwnerID      string                 `firestore:"owner_id"`
	Sender       string                 `firestore:"sender"`
	Body         string                 `firestore:"body"`
	Sequence     int64                  `firestore:"sequence"`
	WordCount    int                    `firestore:"word_count"`
	Sentiment    string                 `firestore:"sentiment"`
	Reactions    map[string]reactionDoc `firestore:"reactions"`
	CreatedAt    time.Time              `firestore:"created_at"`
}

type reactionDoc struct {
	Kind string    `firestore:"kind"`
	At   time.Time `firestore:"at"`
}

func toSessionDoc(session *domain.Session) sessionDoc {
	return sessionDoc{
		OwnerID:       string(session.OwnerID),
		Title:         session.Title,
		Track:         string(session.Track),
		Status:        string(session.Status),
		Summary:       session.Summary,
		Goals:         session.Goals,
		Tags:          session.Tags,
		Archived:      session.Archived,
		LastMessageAt: session.LastMessageAt,
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
	}
}

func fromSessionDoc(token domain.SessionToken, doc sessionDoc) *domain.Session {
	return &domain.Session{
		Token:         token,
		OwnerID:       domain.UserID(doc.OwnerID),
		Title:         doc.Title,
		Track:         domain.Track(doc.Track),
		Status:        domain.SessionStatus(doc.Status),
		Summary:       doc.Summary,
		Goals:         doc.Goals,
		Tags:          doc.Tags,
		Archived:      doc.Archived,
		LastMessageAt: doc.LastMessageAt,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

func fromMessageDoc(doc messageDoc) *domain.Message {
	reactions := make(map[domain.UserID]domain.Reaction, len(doc.Reactions))
	for user, r := range doc.Reactions {
		reactions[domain.UserID(user)] = domain.Reaction{
			Kind: domain.ReactionKind(r.Kind),
			At:   r.At,
		}
	}
	return &domain.Message{
		ID:           domain.MessageID(doc.MessageID),
		SessionToken: domain.SessionToken(doc.SessionToken),
		OwnerID:      domain.UserID(doc.OwnerID),
		Sender:       domain.Sender(doc.Sender),
		Body:         doc.Body,
		Sequence:     doc.Sequence,
		WordCount:    doc.WordCount,
		Sentiment:    domain.Sentiment(doc.Sentiment),
		Reactions:    reactions,
		CreatedAt:    doc.CreatedAt,
	}
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	if _, err := s.sessionDoc(session.Token).Create(ctx, toSessionDoc(session)); err != nil {
		return &domain.StoreError{Op: "CreateSession", Err: err}
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	doc := toSessionDoc(session)
	_, err := s.sessionDoc(session.Token).Set(ctx, map[string]interface{}{
		"owner_id":        doc.OwnerID,
		"title":           doc.Title,
		"track":           doc.Track,
		"status":          doc.Status,
		"summary":         doc.Summary,
		"goals":           doc.Goals,
		"tags":            doc.Tags,
		"archived":        doc.Archived,
		"last_message_at": doc.LastMessageAt,
		"updated_at":      doc.UpdatedAt,
	}, firestore.MergeAll)
	if err != nil {
		return &domain.StoreError{Op: "UpdateSession", Err: err}
	}
	return nil
}

func (s *Store) FindSession(ctx context.Context, token domain.SessionToken, owner domain.UserID) (*domain.Session, error) {
	snap, err := s.sessionDoc(token).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.StoreError{Op: "FindSession", Err: err}
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, &domain.StoreError{Op: "FindSession", Err: err}
	}
	if doc.OwnerID != string(owner) {
		return nil, domain.ErrNotFound
	}
	return fromSessionDoc(token, doc), nil
}

func (s *Store) ListSessions(ctx context.Context, owner domain.UserID, offset, limit int) ([]*domain.Session, int, error) {
	base := s.sessionsCol().
		Where("owner_id", "==", string(owner)).
		Where("archived", "==", false)

	total := 0
	countIter := base.Documents(ctx)
	defer countIter.Stop()
	for {
		if _, err := countIter.Next(); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, 0, &domain.StoreError{Op: "ListSessions", Err: err}
		}
		total++
	}

	q := base.OrderBy("last_message_at", firestore.Desc).Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Session
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, 0, &domain.StoreError{Op: "ListSessions", Err: err}
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, 0, &domain.StoreError{Op: "ListSessions", Err: err}
		}
		out = append(out, fromSessionDoc(domain.SessionToken(snap.Ref.ID), doc))
	}
	return out, total, nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	stored := *msg
	stored.ID = domain.MessageID(uuid.NewString())
	if stored.Reactions == nil {
		stored.Reactions = make(map[domain.UserID]domain.Reaction)
	}

	sessionRef := s.sessionDoc(msg.SessionToken)
	messageRef := s.messagesCol(msg.SessionToken).Doc(string(stored.ID))

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(sessionRef)
		if err != nil {
			return err
		}

		count, err := snap.DataAt("message_count")
		if err != nil {
			count = int64(0)
		}
		seq, _ := count.(int64)
		stored.Sequence = seq + 1

		if err := tx.Set(messageRef, messageDoc{
			MessageID:    string(stored.ID),
			SessionToken: string(stored.SessionToken),
			OwnerID:      string(stored.OwnerID),
			Sender:       string(stored.Sender),
			Body:         stored.Body,
			Sequence:     stored.Sequence,
			WordCount:    stored.WordCount,
			Sentiment:    string(stored.Sentiment),
			Reactions:    map[string]reactionDoc{},
			CreatedAt:    stored.CreatedAt,
		}); err != nil {
			return err
		}

		return tx.Update(sessionRef, []firestore.Update{
			{Path: "message_count", Value: stored.Sequence},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.StoreError{Op: "AppendMessage", Err: err}
	}
	return &stored, nil
}

func (s *Store) ListBySession(ctx context.Context, token domain.SessionToken) ([]*domain.Message, error) {
	iter := s.messagesCol(token).OrderBy("sequence", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*domain.Message
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, &domain.StoreError{Op: "ListBySession", Err: err}
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, &domain.StoreError{Op: "ListBySession", Err: err}
		}
		out = append(out, fromMessageDoc(doc))
	}
	return out, nil
}

func (s *Store) UpsertReaction(ctx context.Context, id domain.MessageID, user domain.UserID, kind domain.ReactionKind) error {
	iter := s.client.CollectionGroup("messages").
		Where("message_id", "==", string(id)).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err != nil {
		if err == iterator.Done {
			return domain.ErrNotFound
		}
		return &domain.StoreError{Op: "UpsertReaction", Err: err}
	}

	_, err = snap.Ref.Update(ctx, []firestore.Update{
		{Path: "reactions." + string(user), Value: reactionDoc{
			Kind: string(kind),
			At:   time.Now(),
		}},
	})
	if err != nil {
		return &domain.StoreError{Op: "UpsertReaction", Err: err}
	}
	return nil
}
