package domain

import (
	"strings"
	"time"
)

type SessionToken string
type UserID string
type MessageID string

// Track selects the counselling style. It is fixed at session creation and
// drives both the oracle's system instruction and the fallback texts.
type Track string

const (
	TrackBiblical Track = "biblical"
	TrackGeneral  Track = "general"
)

// UserType refines the system instruction (students and professionals get
// different framing, not different boundaries).
type UserType string

const (
	UserTypeStudent      UserType = "student"
	UserTypeProfessional UserType = "professional"
)

// ParseTrack maps a wire value onto the track enum. Unknown values read
// as empty so callers can apply their own default.
func ParseTrack(s string) Track {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "biblical":
		return TrackBiblical
	case "general":
		return TrackGeneral
	default:
		return ""
	}
}

// ParseUserType maps a wire value onto the user-type enum, defaulting to
// student.
func ParseUserType(s string) UserType {
	if strings.ToLower(strings.TrimSpace(s)) == "professional" {
		return UserTypeProfessional
	}
	return UserTypeStudent
}

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

type ReactionKind string

const (
	ReactionHelpful    ReactionKind = "helpful"
	ReactionInsightful ReactionKind = "insightful"
	ReactionConfusing  ReactionKind = "confusing"
)

// ValidReactionKind reports whether k is in the closed reaction set.
func ValidReactionKind(k ReactionKind) bool {
	switch k {
	case ReactionHelpful, ReactionInsightful, ReactionConfusing:
		return true
	}
	return false
}

// Sentiment is a coarse classification of a user message, computed
// best-effort by the oracle.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Identity is the request-scoped authenticated caller, supplied by the
// auth collaborator. It is trusted as-is; this core never re-verifies
// credentials.
type Identity struct {
	UserID   UserID
	Track    Track
	UserType UserType
}

type Timestamp = time.Time
