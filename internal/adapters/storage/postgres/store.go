package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agape-peninsula/counsel-api/internal/domain"
)

// Store persists sessions and messages in Postgres. Sequences are
// assigned with an insert-select inside a transaction; the unique
// (session_token, sequence) constraint rejects any interleaving a
// concurrent writer could slip through.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := RunMigration(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migration: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (token, owner_id, title, track, status, summary, goals, tags, archived, last_message_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(session.Token), string(session.OwnerID), session.Title, string(session.Track),
		string(session.Status), session.Summary, session.Goals, session.Tags,
		session.Archived, session.LastMessageAt, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return &domain.StoreError{Op: "CreateSession", Err: err}
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions
		 SET title = $2, status = $3, summary = $4, goals = $5, tags = $6, archived = $7, last_message_at = $8, updated_at = $9
		 WHERE token = $1`,
		string(session.Token), session.Title, string(session.Status), session.Summary,
		session.Goals, session.Tags, session.Archived, session.LastMessageAt, session.UpdatedAt)
	if err != nil {
		return &domain.StoreError{Op: "UpdateSession", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) FindSession(ctx context.Context, token domain.SessionToken, owner domain.UserID) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT token, owner_id, title, track, status, summary, goals, tags, archived, last_message_at, created_at, updated_at
		 FROM sessions WHERE token = $1 AND owner_id = $2`,
		string(token), string(owner))

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.StoreError{Op: "FindSession", Err: err}
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, owner domain.UserID, offset, limit int) ([]*domain.Session, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE owner_id = $1 AND NOT archived`,
		string(owner)).Scan(&total)
	if err != nil {
		return nil, 0, &domain.StoreError{Op: "ListSessions", Err: err}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT token, owner_id, title, track, status, summary, goals, tags, archived, last_message_at, created_at, updated_at
		 FROM sessions WHERE owner_id = $1 AND NOT archived
		 ORDER BY last_message_at DESC
		 OFFSET $2 LIMIT $3`,
		string(owner), offset, limit)
	if err != nil {
		return nil, 0, &domain.StoreError{Op: "ListSessions", Err: err}
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, &domain.StoreError{Op: "ListSessions", Err: err}
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &domain.StoreError{Op: "ListSessions", Err: err}
	}
	return out, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess                        domain.Session
		token, owner, track, status string
	)
	err := row.Scan(&token, &owner, &sess.Title, &track, &status, &sess.Summary,
		&sess.Goals, &sess.Tags, &sess.Archived, &sess.LastMessageAt, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Token = domain.SessionToken(token)
	sess.OwnerID = domain.UserID(owner)
	sess.Track = domain.Track(track)
	sess.Status = domain.SessionStatus(status)
	return &sess, nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

type reactionRecord struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	stored := *msg
	stored.ID = domain.MessageID(uuid.NewString())
	if stored.Reactions == nil {
		stored.Reactions = make(map[domain.UserID]domain.Reaction)
	}
	if stored.Sentiment == "" {
		stored.Sentiment = domain.SentimentNeutral
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &domain.StoreError{Op: "AppendMessage", Err: err}
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO messages (id, session_token, owner_id, sender, body, sequence, word_count, sentiment, created_at)
		 SELECT $1, $2, $3, $4, $5, COALESCE(MAX(sequence), 0) + 1, $6, $7, $8
		 FROM messages WHERE session_token = $2
		 RETURNING sequence`,
		string(stored.ID), string(stored.SessionToken), string(stored.OwnerID),
		string(stored.Sender), stored.Body, stored.WordCount, string(stored.Sentiment),
		stored.CreatedAt).Scan(&stored.Sequence)
	if err != nil {
		return nil, &domain.StoreError{Op: "AppendMessage", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &domain.StoreError{Op: "AppendMessage", Err: err}
	}
	return &stored, nil
}

func (s *Store) ListBySession(ctx context.Context, token domain.SessionToken) ([]*domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_token, owner_id, sender, body, sequence, word_count, sentiment, reactions, created_at
		 FROM messages WHERE session_token = $1 ORDER BY sequence ASC`,
		string(token))
	if err != nil {
		return nil, &domain.StoreError{Op: "ListBySession", Err: err}
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var (
			msg                    domain.Message
			id, tok, owner, sender string
			sentiment              string
			reactionsRaw           []byte
		)
		if err := rows.Scan(&id, &tok, &owner, &sender, &msg.Body, &msg.Sequence,
			&msg.WordCount, &sentiment, &reactionsRaw, &msg.CreatedAt); err != nil {
			return nil, &domain.StoreError{Op: "ListBySession", Err: err}
		}

		var raw map[string]reactionRecord
		if err := json.Unmarshal(reactionsRaw, &raw); err != nil {
			return nil, &domain.StoreError{Op: "ListBySession", Err: err}
		}
		msg.Reactions = make(map[domain.UserID]domain.Reaction, len(raw))
		for user, r := range raw {
			msg.Reactions[domain.UserID(user)] = domain.Reaction{
				Kind: domain.ReactionKind(r.Kind),
				At:   r.At,
			}
		}

		msg.ID = domain.MessageID(id)
		msg.SessionToken = domain.SessionToken(tok)
		msg.OwnerID = domain.UserID(owner)
		msg.Sender = domain.Sender(sender)
		msg.Sentiment = domain.Sentiment(sentiment)
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "ListBySession", Err: err}
	}
	return out, nil
}

func (s *Store) UpsertReaction(ctx context.Context, id domain.MessageID, user domain.UserID, kind domain.ReactionKind) error {
	payload, err := json.Marshal(reactionRecord{Kind: string(kind), At: time.Now()})
	if err != nil {
		return &domain.StoreError{Op: "UpsertReaction", Err: err}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET reactions = jsonb_set(reactions, ARRAY[$2::text], $3::jsonb, true) WHERE id = $1`,
		string(id), string(user), payload)
	if err != nil {
		return &domain.StoreError{Op: "UpsertReaction", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
