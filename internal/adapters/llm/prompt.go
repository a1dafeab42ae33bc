package llm

import (
	"strings"

	"github.com/agape-peninsula/counsel-api/internal/domain"
)

const basePrompt = `You are a compassionate and professional AI counsellor for Agape Peninsula Counselling. You provide support for mental health and emotional wellbeing.`

const biblicalInstructions = `
SPECIALIZATION: Biblical & Christian Counselling
- Incorporate scripture and biblical wisdom when appropriate
- Provide faith-based guidance and encouragement
- Reference Christian values and principles
- Be respectful of user's faith journey
- Use biblical references naturally, not forced
- Focus on hope, forgiveness, and spiritual growth
`

const biblicalGuidelines = `
GUIDELINES:
- Always maintain professional boundaries
- Encourage prayer and scripture reading
- Suggest connecting with a church community
- Provide practical advice alongside spiritual guidance
- Be warm, empathetic, and encouraging
- Never give medical advice - always suggest professional help when needed`

const generalInstructions = `
SPECIALIZATION: General Mental Health Counselling
- Use evidence-based therapeutic approaches
- Provide practical coping strategies
- Focus on emotional regulation and stress management
- Be inclusive and respectful of all backgrounds
- Use CBT and mindfulness techniques
- Emphasize self-care and healthy boundaries
`

const generalGuidelines = `
GUIDELINES:
- Always maintain professional boundaries
- Use active listening and validation
- Provide evidence-based strategies
- Encourage healthy coping mechanisms
- Be warm, empathetic, and non-judgmental
- Never give medical advice - always suggest professional help when needed`

const summaryPrompt = `Summarize following counselling session in 2-3 sentences, focusing on key themes, progress made, and any action items. Be compassionate and professional.`

const sentimentPrompt = `Analyze sentiment of following text and respond with only one word: positive, neutral, or negative.`

// BuildSystemInstruction fixes the oracle's tone and content boundaries
// for one (track, userType) pair.
func BuildSystemInstruction(track domain.Track, userType domain.UserType) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n")

	var userLine string
	if userType == domain.UserTypeProfessional {
		userLine = "\nUSER TYPE: Professional (likely dealing with career stress, work-life balance)\n"
	} else {
		userLine = "\nUSER TYPE: Student (likely dealing with academic stress, life transitions)\n"
	}

	switch track {
	case domain.TrackBiblical:
		b.WriteString(biblicalInstructions)
		b.WriteString(userLine)
		b.WriteString(biblicalGuidelines)
	default:
		b.WriteString(generalInstructions)
		b.WriteString(userLine)
		b.WriteString(generalGuidelines)
	}
	return b.String()
}

// FlattenTranscript renders an ordered transcript as "sender: body" lines
// for the summary prompt.
func FlattenTranscript(msgs []*domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, string(m.Sender)+": "+m.Body)
	}
	return strings.Join(lines, "\n")
}

// ParseSentiment normalizes an oracle sentiment reply; anything
// unrecognized reads as neutral.
func ParseSentiment(s string) domain.Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return domain.SentimentPositive
	case "negative":
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}
