package domain

import "context"

// ReplyContext gives the oracle what it needs to shape a reply.
type ReplyContext struct {
	SessionToken SessionToken
	UserID       UserID
	Track        Track
	UserType     UserType
	History      []*Message
}

// Oracle is the external text-completion collaborator. Adapters make a
// single bounded call per method and report failure as *OracleError;
// retries, if any, are the caller's policy.
type Oracle interface {
	GetReply(ctx context.Context, message string, replyCtx ReplyContext) (string, error)
	Summarize(ctx context.Context, transcript []*Message) (string, error)
	Sentiment(ctx context.Context, text string) (Sentiment, error)
	Ping(ctx context.Context) error
}

// SessionStore defines session persistence. Implementations never mutate
// business fields on their own.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	UpdateSession(ctx context.Context, session *Session) error
	// FindSession returns ErrNotFound when the token is unknown or the
	// session belongs to a different owner.
	FindSession(ctx context.Context, token SessionToken, owner UserID) (*Session, error)
	// ListSessions returns non-archived sessions for owner ordered by
	// LastMessageAt descending, plus the total non-archived count.
	ListSessions(ctx context.Context, owner UserID, offset, limit int) ([]*Session, int, error)
}

// MessageStore defines message persistence. Appends within one session
// are serialized by the store's sequence assignment; appends to different
// sessions are independent.
type MessageStore interface {
	// AppendMessage persists msg, assigning ID and the next per-session
	// Sequence, and returns the stored message. The write is durable
	// before a nil error returns.
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	// ListBySession returns all messages for the session ordered by
	// Sequence ascending. Re-callable.
	ListBySession(ctx context.Context, token SessionToken) ([]*Message, error)
	// UpsertReaction sets user's reaction on the message, replacing any
	// previous one. Returns ErrNotFound for an unknown message id.
	UpsertReaction(ctx context.Context, id MessageID, user UserID, kind ReactionKind) error
}
