package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agape-peninsula/counsel-api/internal/domain"
)

// ScriptOracle is an in-process oracle for development and tests. It can
// echo a canned reply, be forced to fail with any taxonomy kind, and
// inject latency.
type ScriptOracle struct {
	mu        sync.Mutex
	failKind  domain.OracleErrorKind
	failing   bool
	delay     time.Duration
	reply     string
	summary   string
	sentiment domain.Sentiment
	calls     int
	lastReply domain.ReplyContext
}

func NewScriptOracle() *ScriptOracle {
	return &ScriptOracle{sentiment: domain.SentimentNeutral}
}

// Fail makes every subsequent call return an *domain.OracleError of kind.
func (s *ScriptOracle) Fail(kind domain.OracleErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = true
	s.failKind = kind
}

// Recover clears a forced failure.
func (s *ScriptOracle) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = false
}

// SetDelay injects latency before every call returns.
func (s *ScriptOracle) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetReply fixes the text returned by GetReply.
func (s *ScriptOracle) SetReply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = text
}

// SetSummary fixes the text returned by Summarize.
func (s *ScriptOracle) SetSummary(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = text
}

// Calls returns how many oracle calls have been made.
func (s *ScriptOracle) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastReplyContext returns the context of the most recent GetReply call.
func (s *ScriptOracle) LastReplyContext() domain.ReplyContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReply
}

func (s *ScriptOracle) step() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing {
		return s.delay, &domain.OracleError{
			Kind: s.failKind,
			Err:  fmt.Errorf("scripted %s failure", s.failKind),
		}
	}
	return s.delay, nil
}

// GetReply implements domain.Oracle.
func (s *ScriptOracle) GetReply(ctx context.Context, message string, replyCtx domain.ReplyContext) (string, error) {
	s.mu.Lock()
	s.lastReply = replyCtx
	s.mu.Unlock()

	delay, err := s.step()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	reply := s.reply
	s.mu.Unlock()
	if reply != "" {
		return reply, nil
	}
	return fmt.Sprintf("I hear you. You said %q. Tell me a bit more about how that makes you feel.", message), nil
}

// Summarize implements domain.Oracle.
func (s *ScriptOracle) Summarize(ctx context.Context, transcript []*domain.Message) (string, error) {
	delay, err := s.step()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	summary := s.summary
	s.mu.Unlock()
	if summary != "" {
		return summary, nil
	}
	return fmt.Sprintf("The user worked through their concerns across %d messages.", len(transcript)), nil
}

// Sentiment implements domain.Oracle.
func (s *ScriptOracle) Sentiment(ctx context.Context, text string) (domain.Sentiment, error) {
	delay, err := s.step()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return domain.SentimentNeutral, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentiment, nil
}

// Ping implements domain.Oracle.
func (s *ScriptOracle) Ping(ctx context.Context) error {
	_, err := s.step()
	return err
}
