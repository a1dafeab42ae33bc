package domain

// MaxMessageRunes bounds the body of a single chat message.
const MaxMessageRunes = 2000

// Session is one continuous counselling conversation between a user and
// the AI responder. Sessions are never deleted, only archived.
type Session struct {
	Token   SessionToken
	OwnerID UserID
	Title   string
	Track   Track

	Status SessionStatus
	// Summary is set exactly once, on the transition to StatusCompleted.
	// Invariant: Summary != "" iff Status == StatusCompleted.
	Summary string

	Goals []string
	Tags  []string

	// Archived hides the session from default listings. It is orthogonal
	// to Status.
	Archived bool

	LastMessageAt Timestamp
	CreatedAt     Timestamp
	UpdatedAt     Timestamp
}

// Reaction is one user's reaction to a message. A user holds at most one
// reaction per message; a new kind overwrites the old one.
type Reaction struct {
	Kind ReactionKind
	At   Timestamp
}

// Message is a single chat turn. Immutable after creation except for the
// Reactions map, which the store upserts in place.
type Message struct {
	ID           MessageID
	SessionToken SessionToken
	OwnerID      UserID
	Sender       Sender
	Body         string

	// Sequence is assigned by the store on append and is strictly
	// increasing and gapless within a session.
	Sequence int64

	WordCount int
	Sentiment Sentiment
	Reactions map[UserID]Reaction

	CreatedAt Timestamp
}

// Pagination mirrors the listing envelope the API returns.
type Pagination struct {
	Current int
	Pages   int
	Total   int
}
