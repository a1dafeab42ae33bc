package chat

import "github.com/agape-peninsula/counsel-api/internal/domain"

// DefaultSummary is stored when the oracle cannot summarize a session.
const DefaultSummary = "Session completed successfully. User engaged in meaningful discussion about their concerns."

// Fallback returns the pre-authored, track-appropriate reply for an
// oracle outage. Pure and total: any kind outside the taxonomy takes the
// transient branch, so a chat turn can always be answered.
func Fallback(kind domain.OracleErrorKind, track domain.Track) string {
	biblical := track == domain.TrackBiblical

	switch kind {
	case domain.OracleUnconfigured:
		if biblical {
			return "I'm here to support you on your journey. 'Trust in the Lord with all your heart and lean not on your own understanding.' (Proverbs 3:5). Please note: To provide you with the best AI-powered guidance, we need to configure our AI connection. In the meantime, how can I support you with prayer and encouragement?"
		}
		return "I'm here to support you through this conversation. Please note: To provide you with the best AI-powered guidance, we need to configure our AI connection. In the meantime, I'm here to listen and provide general support. What would you like to share today?"

	case domain.OracleUnauthorized:
		if biblical {
			return "I'm having trouble connecting to my AI guidance system right now. Let's rely on faith and wisdom. 'The Lord is my strength and my shield; my heart trusts in him.' (Psalm 28:7). Please share what's on your heart, and I'll do my best to support you."
		}
		return "I'm experiencing technical difficulties with my AI connection right now. However, I'm still here to listen and provide support. Please share what's on your mind, and I'll do my best to help you work through it."

	case domain.OracleRateLimited:
		if biblical {
			return "Many people are seeking guidance right now - that's wonderful! 'Be still, and know that I am God.' (Psalm 46:10). Let's take a moment to breathe. What's one thing you'd like to focus on in this moment?"
		}
		return "I'm experiencing high demand right now, but you're important to me. Let's take a mindful moment together. Take a deep breath... What's one thing that's been on your mind lately?"

	case domain.OracleQuotaExhausted:
		if biblical {
			return "I need to take a brief moment to reset. 'Cast all your anxiety on him because he cares for you.' (1 Peter 5:7). While I reconnect, what's one area where you'd like to experience God's peace?"
		}
		return "I need to take a brief moment to reset. While I reconnect, let's focus on something positive. What's one small thing that brought you comfort or joy recently?"

	default:
		if biblical {
			return "I'm experiencing a temporary connection issue. 'God is our refuge and strength, an ever-present help in trouble.' (Psalm 46:1). I'm still here with you. What would you like to share while I reconnect?"
		}
		return "I'm experiencing a temporary connection issue, but I'm still here with you. Sometimes technology has its moments, just like we do. What would you like to share while I reconnect?"
	}
}
