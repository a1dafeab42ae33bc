package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/agape-peninsula/counsel-api/internal/domain"
	"github.com/agape-peninsula/counsel-api/internal/observability"
)

const (
	defaultTitle = "New Counselling Session"

	// oracleTimeout bounds a single oracle call; on expiry the turn takes
	// the fallback path instead of blocking the caller.
	oracleTimeout = 30 * time.Second

	sentimentTimeout = 10 * time.Second
)

// Service owns the counselling-session lifecycle: it creates sessions,
// orchestrates each chat turn (oracle reply with categorized fallback),
// ends sessions with a summary, and archives them. All session state
// lives in the stores; the only in-process state is the per-session lock
// table used to serialize concurrent turns on one session.
type Service struct {
	oracle       domain.Oracle
	sessionStore domain.SessionStore
	messageStore domain.MessageStore
	now          func() time.Time

	mu    sync.Mutex
	locks map[domain.SessionToken]*sync.Mutex
}

func NewService(oracle domain.Oracle, sessionStore domain.SessionStore, messageStore domain.MessageStore) *Service {
	return &Service{
		oracle:       oracle,
		sessionStore: sessionStore,
		messageStore: messageStore,
		now:          time.Now,
		locks:        make(map[domain.SessionToken]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing turns for one session.
// Different sessions get independent locks and proceed in parallel.
func (s *Service) sessionLock(token domain.SessionToken) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[token]
	if !ok {
		l = &sync.Mutex{}
		s.locks[token] = l
	}
	return l
}

type StartSessionInput struct {
	Identity domain.Identity
	Track    domain.Track
	Title    string
	Goals    []string
	Tags     []string
}

type StartSessionOutput struct {
	Session *domain.Session
}

func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (*StartSessionOutput, error) {
	track := in.Track
	if track == "" {
		track = in.Identity.Track
	}
	switch track {
	case domain.TrackBiblical, domain.TrackGeneral:
	case "":
		return nil, &domain.ValidationError{Field: "counselling_type", Reason: "required and no default set for user"}
	default:
		return nil, &domain.ValidationError{Field: "counselling_type", Reason: "must be biblical or general"}
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultTitle
	}

	now := s.now()
	session := &domain.Session{
		Token:         domain.SessionToken(uuid.NewString()),
		OwnerID:       in.Identity.UserID,
		Title:         title,
		Track:         track,
		Status:        domain.StatusActive,
		Goals:         in.Goals,
		Tags:          in.Tags,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	log := observability.LoggerFromContext(ctx).With(
		"user_id", in.Identity.UserID,
		"track", track,
	)
	log.Info("starting new session")

	if err := s.sessionStore.CreateSession(ctx, session); err != nil {
		log.Error("failed to create session", "error", err)
		return nil, err
	}

	log.Info("session started", "session_token", session.Token)
	return &StartSessionOutput{Session: session}, nil
}

type SendMessageInput struct {
	Token    domain.SessionToken
	Identity domain.Identity
	Body     string
}

type SendMessageOutput struct {
	UserMessage *domain.Message
	AIMessage   *domain.Message
}

// SendMessage runs one chat turn: obtain a reply (oracle, or the
// fallback responder on any oracle failure) while the user message's
// sentiment is tagged concurrently, then persist the user message and
// the reply and bump the session's activity time. The two appends are
// not wrapped in a cross-store transaction; a crash between them leaves
// a user turn without a reply, which EndSession tolerates.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageOutput, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, &domain.ValidationError{Field: "message", Reason: "required"}
	}
	if utf8.RuneCountInString(body) > domain.MaxMessageRunes {
		return nil, &domain.ValidationError{Field: "message", Reason: "cannot exceed 2000 characters"}
	}

	lock := s.sessionLock(in.Token)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.sessionStore.FindSession(ctx, in.Token, in.Identity.UserID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.StatusActive {
		return nil, domain.ErrSessionNotActive
	}

	log := observability.LoggerFromContext(ctx).With(
		"session_token", session.Token,
		"user_id", session.OwnerID,
		"track", session.Track,
	)
	log.Info("processing chat turn")

	history, err := s.messageStore.ListBySession(ctx, session.Token)
	if err != nil {
		log.Error("failed to load history", "error", err)
		return nil, err
	}

	// Sentiment is best-effort and must not extend the turn, so it runs
	// alongside the reply call rather than ahead of it.
	sentimentCh := make(chan domain.Sentiment, 1)
	go func() {
		sentimentCh <- s.sentimentOf(ctx, body)
	}()

	replyText := s.reply(ctx, log, body, session, history, in.Identity.UserType)

	userMsg, err := s.messageStore.AppendMessage(ctx, &domain.Message{
		SessionToken: session.Token,
		OwnerID:      session.OwnerID,
		Sender:       domain.SenderUser,
		Body:         body,
		WordCount:    len(strings.Fields(body)),
		Sentiment:    <-sentimentCh,
		CreatedAt:    s.now(),
	})
	if err != nil {
		log.Error("failed to append user message", "error", err)
		return nil, err
	}

	aiMsg, err := s.messageStore.AppendMessage(ctx, &domain.Message{
		SessionToken: session.Token,
		OwnerID:      session.OwnerID,
		Sender:       domain.SenderAI,
		Body:         replyText,
		WordCount:    len(strings.Fields(replyText)),
		CreatedAt:    s.now(),
	})
	if err != nil {
		log.Error("failed to append ai message", "error", err)
		return nil, err
	}

	session.LastMessageAt = s.now()
	session.UpdatedAt = session.LastMessageAt
	if err := s.sessionStore.UpdateSession(ctx, session); err != nil {
		log.Error("failed to update session", "error", err)
		return nil, err
	}

	log.Info("chat turn completed", "sequence", aiMsg.Sequence)
	return &SendMessageOutput{UserMessage: userMsg, AIMessage: aiMsg}, nil
}

// reply asks the oracle for a counselling reply and falls back to the
// canned, track-appropriate text on any failure. It never fails: the user
// always gets a reply even when the oracle is down.
func (s *Service) reply(ctx context.Context, log *slog.Logger, body string, session *domain.Session, history []*domain.Message, userType domain.UserType) string {
	octx, cancel := context.WithTimeout(ctx, oracleTimeout)
	defer cancel()

	text, err := s.oracle.GetReply(octx, body, domain.ReplyContext{
		SessionToken: session.Token,
		UserID:       session.OwnerID,
		Track:        session.Track,
		UserType:     userType,
		History:      history,
	})
	if err == nil && text != "" {
		return text
	}

	kind := domain.OracleTransient
	var oerr *domain.OracleError
	if errors.As(err, &oerr) {
		kind = oerr.Kind
	}
	log.Warn("oracle unavailable, using fallback reply", "kind", string(kind), "error", err)
	return Fallback(kind, session.Track)
}

// sentimentOf tags a user message with a coarse sentiment. Best effort:
// any oracle trouble reads as neutral.
func (s *Service) sentimentOf(ctx context.Context, text string) domain.Sentiment {
	sctx, cancel := context.WithTimeout(ctx, sentimentTimeout)
	defer cancel()

	sentiment, err := s.oracle.Sentiment(sctx, text)
	if err != nil {
		return domain.SentimentNeutral
	}
	return sentiment
}

type EndSessionOutput struct {
	Session *domain.Session
	Summary string
}

// EndSession completes a session and stores a summary derived from the
// full transcript. The summarizer follows the same oracle/fallback
// pattern as chat turns: when the oracle cannot summarize, a fixed
// generic summary is stored so the completed/summary invariant holds.
// Ending an already-completed session returns the stored summary.
func (s *Service) EndSession(ctx context.Context, token domain.SessionToken, identity domain.Identity) (*EndSessionOutput, error) {
	lock := s.sessionLock(token)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.sessionStore.FindSession(ctx, token, identity.UserID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusCompleted {
		return &EndSessionOutput{Session: session, Summary: session.Summary}, nil
	}

	log := observability.LoggerFromContext(ctx).With(
		"session_token", session.Token,
		"user_id", session.OwnerID,
	)

	transcript, err := s.messageStore.ListBySession(ctx, session.Token)
	if err != nil {
		log.Error("failed to load transcript", "error", err)
		return nil, err
	}

	summary := DefaultSummary
	if len(transcript) > 0 {
		octx, cancel := context.WithTimeout(ctx, oracleTimeout)
		text, serr := s.oracle.Summarize(octx, transcript)
		cancel()
		if serr == nil && text != "" {
			summary = text
		} else {
			log.Warn("oracle could not summarize, storing generic summary", "error", serr)
		}
	}

	session.Status = domain.StatusCompleted
	session.Summary = summary
	session.UpdatedAt = s.now()
	if err := s.sessionStore.UpdateSession(ctx, session); err != nil {
		log.Error("failed to complete session", "error", err)
		return nil, err
	}

	log.Info("session completed", "messages", len(transcript))
	return &EndSessionOutput{Session: session, Summary: summary}, nil
}

// ArchiveSession hides a session from default listings. Idempotent:
// archiving an archived session is a no-op success. It takes the session
// lock so an in-flight turn's session update cannot overwrite the flag.
func (s *Service) ArchiveSession(ctx context.Context, token domain.SessionToken, identity domain.Identity) error {
	lock := s.sessionLock(token)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.sessionStore.FindSession(ctx, token, identity.UserID)
	if err != nil {
		return err
	}
	if session.Archived {
		return nil
	}

	session.Archived = true
	session.UpdatedAt = s.now()
	if err := s.sessionStore.UpdateSession(ctx, session); err != nil {
		observability.LoggerFromContext(ctx).Error("failed to archive session", "error", err, "session_token", token)
		return err
	}
	return nil
}

// React upserts the caller's reaction on a message: one reaction per user
// per message, latest kind wins.
func (s *Service) React(ctx context.Context, id domain.MessageID, identity domain.Identity, kind domain.ReactionKind) error {
	if !domain.ValidReactionKind(kind) {
		return &domain.ValidationError{Field: "type", Reason: "must be helpful, insightful or confusing"}
	}
	return s.messageStore.UpsertReaction(ctx, id, identity.UserID, kind)
}

type ListSessionsOutput struct {
	Sessions   []*domain.Session
	Pagination domain.Pagination
}

// ListSessions returns the caller's non-archived sessions ordered by most
// recent activity.
func (s *Service) ListSessions(ctx context.Context, identity domain.Identity, page, limit int) (*ListSessionsOutput, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	sessions, total, err := s.sessionStore.ListSessions(ctx, identity.UserID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}

	pages := (total + limit - 1) / limit
	return &ListSessionsOutput{
		Sessions: sessions,
		Pagination: domain.Pagination{
			Current: page,
			Pages:   pages,
			Total:   total,
		},
	}, nil
}

// SessionTimeline returns a session with its ordered messages.
func (s *Service) SessionTimeline(ctx context.Context, token domain.SessionToken, identity domain.Identity) (*domain.Session, []*domain.Message, error) {
	session, err := s.sessionStore.FindSession(ctx, token, identity.UserID)
	if err != nil {
		return nil, nil, err
	}

	msgs, err := s.messageStore.ListBySession(ctx, session.Token)
	if err != nil {
		return nil, nil, err
	}
	return session, msgs, nil
}
