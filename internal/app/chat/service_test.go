package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agape-peninsula/counsel-api/internal/adapters/llm"
	"github.com/agape-peninsula/counsel-api/internal/adapters/storage/memory"
	"github.com/agape-peninsula/counsel-api/internal/app/chat"
	"github.com/agape-peninsula/counsel-api/internal/domain"
)

type fixture struct {
	svc      *chat.Service
	oracle   *llm.ScriptOracle
	messages *memory.MessageStore
	sessions *memory.SessionStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	oracle := llm.NewScriptOracle()
	sessions := memory.NewSessionStore()
	messages := memory.NewMessageStore()

	return &fixture{
		svc:      chat.NewService(oracle, sessions, messages),
		oracle:   oracle,
		messages: messages,
		sessions: sessions,
	}
}

func (f *fixture) startSession(t *testing.T, track domain.Track) *domain.Session {
	t.Helper()

	out, err := f.svc.StartSession(context.Background(), chat.StartSessionInput{
		Identity: identity("test-user"),
		Track:    track,
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return out.Session
}

func identity(id string) domain.Identity {
	return domain.Identity{
		UserID:   domain.UserID(id),
		Track:    domain.TrackGeneral,
		UserType: domain.UserTypeStudent,
	}
}

func TestStartSessionAndSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.startSession(t, domain.TrackGeneral)
	if session.Token == "" {
		t.Fatalf("expected session token, got empty")
	}
	if session.Status != domain.StatusActive {
		t.Fatalf("expected active status, got %s", session.Status)
	}

	out, err := f.svc.SendMessage(ctx, chat.SendMessageInput{
		Token:    session.Token,
		Identity: identity("test-user"),
		Body:     "I have been feeling overwhelmed lately",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if out.UserMessage.Sequence != 1 || out.AIMessage.Sequence != 2 {
		t.Fatalf("expected sequences 1,2 got %d,%d", out.UserMessage.Sequence, out.AIMessage.Sequence)
	}
	if out.AIMessage.Body == "" {
		t.Fatalf("expected non-empty ai reply")
	}
}

func TestStartSessionRequiresTrack(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StartSession(context.Background(), chat.StartSessionInput{
		Identity: domain.Identity{UserID: "no-default-user"},
	})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestStartSessionDefaultsToIdentityTrack(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.StartSession(context.Background(), chat.StartSessionInput{
		Identity: domain.Identity{UserID: "u1", Track: domain.TrackBiblical},
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if out.Session.Track != domain.TrackBiblical {
		t.Fatalf("expected biblical track from identity default, got %s", out.Session.Track)
	}
}

func TestSendMessageAlwaysRepliesOnOracleFailure(t *testing.T) {
	kinds := []domain.OracleErrorKind{
		domain.OracleUnconfigured,
		domain.OracleUnauthorized,
		domain.OracleRateLimited,
		domain.OracleQuotaExhausted,
		domain.OracleTransient,
	}
	tracks := []domain.Track{domain.TrackBiblical, domain.TrackGeneral}

	for _, track := range tracks {
		for _, kind := range kinds {
			f := newFixture(t)
			session := f.startSession(t, track)
			f.oracle.Fail(kind)

			out, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
				Token:    session.Token,
				Identity: identity("test-user"),
				Body:     "hello",
			})
			if err != nil {
				t.Fatalf("track=%s kind=%s: SendMessage failed: %v", track, kind, err)
			}

			want := chat.Fallback(kind, track)
			if out.AIMessage.Body != want {
				t.Fatalf("track=%s kind=%s: expected fallback reply %q, got %q", track, kind, want, out.AIMessage.Body)
			}
		}
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t, domain.TrackGeneral)

	cases := []struct {
		name string
		body string
	}{
		{"empty", "   "},
		{"too long", strings.Repeat("a", 2001)},
	}
	for _, tc := range cases {
		_, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
			Token:    session.Token,
			Identity: identity("test-user"),
			Body:     tc.body,
		})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestSendMessageUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		Token:    "no-such-session",
		Identity: identity("test-user"),
		Body:     "hello",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSendMessageWrongOwner(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t, domain.TrackGeneral)

	_, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		Token:    session.Token,
		Identity: identity("someone-else"),
		Body:     "hello",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign session, got %v", err)
	}
}

func TestSendMessageRejectedOnCompletedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	if _, err := f.svc.EndSession(ctx, session.Token, identity("test-user")); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	_, err := f.svc.SendMessage(ctx, chat.SendMessageInput{
		Token:    session.Token,
		Identity: identity("test-user"),
		Body:     "one more thing",
	})
	if !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestSequencesGapless(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	for i := 0; i < 4; i++ {
		if _, err := f.svc.SendMessage(ctx, chat.SendMessageInput{
			Token:    session.Token,
			Identity: identity("test-user"),
			Body:     "message",
		}); err != nil {
			t.Fatalf("SendMessage %d failed: %v", i, err)
		}
	}

	msgs, err := f.messages.ListBySession(ctx, session.Token)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(msgs) != 8 {
		t.Fatalf("expected 8 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Sequence != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, m.Sequence)
		}
	}
}

func TestCompletedSummaryInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	if session.Summary != "" {
		t.Fatalf("active session must have empty summary")
	}

	if _, err := f.svc.SendMessage(ctx, chat.SendMessageInput{
		Token:    session.Token,
		Identity: identity("test-user"),
		Body:     "hello",
	}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	out, err := f.svc.EndSession(ctx, session.Token, identity("test-user"))
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if out.Session.Status != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %s", out.Session.Status)
	}
	if out.Summary == "" || out.Session.Summary == "" {
		t.Fatalf("completed session must have non-empty summary")
	}
}

func TestEndSessionUsesGenericSummaryWhenOracleDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	if _, err := f.svc.SendMessage(ctx, chat.SendMessageInput{
		Token:    session.Token,
		Identity: identity("test-user"),
		Body:     "hello",
	}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	f.oracle.Fail(domain.OracleRateLimited)

	out, err := f.svc.EndSession(ctx, session.Token, identity("test-user"))
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if out.Summary != chat.DefaultSummary {
		t.Fatalf("expected generic summary, got %q", out.Summary)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	first, err := f.svc.EndSession(ctx, session.Token, identity("test-user"))
	if err != nil {
		t.Fatalf("first EndSession failed: %v", err)
	}

	second, err := f.svc.EndSession(ctx, session.Token, identity("test-user"))
	if err != nil {
		t.Fatalf("second EndSession failed: %v", err)
	}
	if second.Summary != first.Summary {
		t.Fatalf("expected stored summary %q on repeat end, got %q", first.Summary, second.Summary)
	}
}

func TestArchiveSessionIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	for i := 0; i < 2; i++ {
		if err := f.svc.ArchiveSession(ctx, session.Token, identity("test-user")); err != nil {
			t.Fatalf("ArchiveSession call %d failed: %v", i+1, err)
		}
	}

	stored, err := f.sessions.FindSession(ctx, session.Token, "test-user")
	if err != nil {
		t.Fatalf("FindSession failed: %v", err)
	}
	if !stored.Archived {
		t.Fatalf("expected archived=true")
	}

	out, err := f.svc.ListSessions(ctx, identity("test-user"), 1, 10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(out.Sessions) != 0 {
		t.Fatalf("archived session must not appear in listings, got %d", len(out.Sessions))
	}
}

func TestReactUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	sent, err := f.svc.SendMessage(ctx, chat.SendMessageInput{
		Token:    session.Token,
		Identity: identity("test-user"),
		Body:     "hello",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	msgID := sent.AIMessage.ID

	// Same kind twice stays a single reaction.
	for i := 0; i < 2; i++ {
		if err := f.svc.React(ctx, msgID, identity("test-user"), domain.ReactionHelpful); err != nil {
			t.Fatalf("React failed: %v", err)
		}
	}

	msgs, _ := f.messages.ListBySession(ctx, session.Token)
	reactions := msgs[1].Reactions
	if len(reactions) != 1 || reactions["test-user"].Kind != domain.ReactionHelpful {
		t.Fatalf("expected one helpful reaction, got %v", reactions)
	}

	// A different kind overwrites in place.
	if err := f.svc.React(ctx, msgID, identity("test-user"), domain.ReactionConfusing); err != nil {
		t.Fatalf("React failed: %v", err)
	}
	msgs, _ = f.messages.ListBySession(ctx, session.Token)
	reactions = msgs[1].Reactions
	if len(reactions) != 1 || reactions["test-user"].Kind != domain.ReactionConfusing {
		t.Fatalf("expected reaction updated to confusing, got %v", reactions)
	}
}

func TestReactValidation(t *testing.T) {
	f := newFixture(t)

	err := f.svc.React(context.Background(), "some-id", identity("test-user"), "amazing")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unknown kind, got %v", err)
	}

	err = f.svc.React(context.Background(), "missing-id", identity("test-user"), domain.ReactionHelpful)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown message, got %v", err)
	}
}

func TestBiblicalRateLimitedTurn(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t, domain.TrackBiblical)
	f.oracle.Fail(domain.OracleRateLimited)

	out, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		Token:    session.Token,
		Identity: identity("test-user"),
		Body:     "I feel anxious about exams",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if !strings.Contains(out.AIMessage.Body, "Be still, and know that I am God") {
		t.Fatalf("expected biblical rate-limit fallback, got %q", out.AIMessage.Body)
	}
	if out.UserMessage.Sequence != 1 || out.AIMessage.Sequence != 2 {
		t.Fatalf("expected sequences 1,2 got %d,%d", out.UserMessage.Sequence, out.AIMessage.Sequence)
	}
}

func TestGeneralSessionEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	for _, body := range []string{
		"I struggle to switch off after work",
		"It keeps me up at night",
		"What can I try this week?",
	} {
		if _, err := f.svc.SendMessage(ctx, chat.SendMessageInput{
			Token:    session.Token,
			Identity: identity("test-user"),
			Body:     body,
		}); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}

	f.oracle.SetSummary("Explored work stress and sleep; agreed on a wind-down routine.")

	out, err := f.svc.EndSession(ctx, session.Token, identity("test-user"))
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if out.Session.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", out.Session.Status)
	}
	if out.Summary == "" {
		t.Fatalf("expected non-empty summary")
	}

	msgs, _ := f.messages.ListBySession(ctx, session.Token)
	if len(msgs) != 6 {
		t.Fatalf("expected 6 stored messages, got %d", len(msgs))
	}
}

func TestConcurrentSendsOnOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	// Widen the append window so an unserialized implementation would
	// interleave sequence assignment.
	f.messages.AppendDelay = 5 * time.Millisecond

	const turns = 4
	var wg sync.WaitGroup
	errs := make(chan error, turns)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SendMessage(ctx, chat.SendMessageInput{
				Token:    session.Token,
				Identity: identity("test-user"),
				Body:     "concurrent message",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent SendMessage failed: %v", err)
		}
	}

	msgs, _ := f.messages.ListBySession(ctx, session.Token)
	if len(msgs) != turns*2 {
		t.Fatalf("expected %d messages, got %d", turns*2, len(msgs))
	}
	for i, m := range msgs {
		if m.Sequence != int64(i+1) {
			t.Fatalf("sequence gap or duplicate at position %d: got %d", i, m.Sequence)
		}
	}
	// Turns must not interleave: user and ai messages alternate.
	for i := 0; i < len(msgs); i += 2 {
		if msgs[i].Sender != domain.SenderUser || msgs[i+1].Sender != domain.SenderAI {
			t.Fatalf("interleaved turn at position %d", i)
		}
	}
}

func TestArchiveDuringTurnSticks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, domain.TrackGeneral)

	f.oracle.SetDelay(100 * time.Millisecond)

	turnDone := make(chan error, 1)
	go func() {
		_, err := f.svc.SendMessage(ctx, chat.SendMessageInput{
			Token:    session.Token,
			Identity: identity("test-user"),
			Body:     "hello",
		})
		turnDone <- err
	}()

	// Archive while the turn is still waiting on the oracle. It must
	// queue behind the turn, not lose the flag to the turn's session
	// update.
	time.Sleep(20 * time.Millisecond)
	if err := f.svc.ArchiveSession(ctx, session.Token, identity("test-user")); err != nil {
		t.Fatalf("ArchiveSession failed: %v", err)
	}
	if err := <-turnDone; err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	stored, err := f.sessions.FindSession(ctx, session.Token, "test-user")
	if err != nil {
		t.Fatalf("FindSession failed: %v", err)
	}
	if !stored.Archived {
		t.Fatalf("archived flag lost to an in-flight turn")
	}
}

func TestSentimentDoesNotExtendTurn(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t, domain.TrackGeneral)

	// Both the reply and the sentiment call sleep this long; run serially
	// the turn would take at least twice it.
	f.oracle.SetDelay(100 * time.Millisecond)

	start := time.Now()
	out, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		Token:    session.Token,
		Identity: identity("test-user"),
		Body:     "hello",
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if out.UserMessage.Sentiment != domain.SentimentNeutral {
		t.Fatalf("expected sentiment tag on user message, got %q", out.UserMessage.Sentiment)
	}
	if elapsed >= 180*time.Millisecond {
		t.Fatalf("sentiment call ran in-path: turn took %v", elapsed)
	}
}

func TestListSessionsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.startSession(t, domain.TrackGeneral)
		time.Sleep(time.Millisecond)
	}

	out, err := f.svc.ListSessions(ctx, identity("test-user"), 1, 2)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(out.Sessions) != 2 {
		t.Fatalf("expected 2 sessions on page, got %d", len(out.Sessions))
	}
	if out.Pagination.Total != 5 || out.Pagination.Pages != 3 || out.Pagination.Current != 1 {
		t.Fatalf("unexpected pagination %+v", out.Pagination)
	}
	if out.Sessions[0].LastMessageAt.Before(out.Sessions[1].LastMessageAt) {
		t.Fatalf("sessions must be ordered by activity desc")
	}
}
