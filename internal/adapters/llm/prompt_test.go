package llm_test

import (
	"strings"
	"testing"

	"github.com/agape-peninsula/counsel-api/internal/adapters/llm"
	"github.com/agape-peninsula/counsel-api/internal/domain"
)

func TestBuildSystemInstruction(t *testing.T) {
	biblical := llm.BuildSystemInstruction(domain.TrackBiblical, domain.UserTypeStudent)
	if !strings.Contains(biblical, "Biblical & Christian Counselling") {
		t.Fatalf("biblical instruction missing specialization: %q", biblical)
	}
	if !strings.Contains(biblical, "Student") {
		t.Fatalf("biblical instruction missing user type: %q", biblical)
	}

	general := llm.BuildSystemInstruction(domain.TrackGeneral, domain.UserTypeProfessional)
	if !strings.Contains(general, "General Mental Health Counselling") {
		t.Fatalf("general instruction missing specialization: %q", general)
	}
	if !strings.Contains(general, "Professional") {
		t.Fatalf("general instruction missing user type: %q", general)
	}
	if strings.Contains(general, "scripture") {
		t.Fatalf("general instruction must not mention scripture: %q", general)
	}
}

func TestFlattenTranscript(t *testing.T) {
	got := llm.FlattenTranscript([]*domain.Message{
		{Sender: domain.SenderUser, Body: "hello"},
		{Sender: domain.SenderAI, Body: "hi there"},
	})
	want := "user: hello\nai: hi there"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestParseSentiment(t *testing.T) {
	cases := map[string]domain.Sentiment{
		"positive":   domain.SentimentPositive,
		" Negative ": domain.SentimentNegative,
		"NEUTRAL":    domain.SentimentNeutral,
		"gibberish":  domain.SentimentNeutral,
		"":           domain.SentimentNeutral,
	}
	for in, want := range cases {
		if got := llm.ParseSentiment(in); got != want {
			t.Fatalf("ParseSentiment(%q) = %s, want %s", in, got, want)
		}
	}
}
