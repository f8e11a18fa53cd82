package models

// Stats summarises response and sentiment activity of an environment.
type Stats struct {
	NewResponses      int64     `json:"new_responses"`
	ActiveSurveys     int64     `json:"active_surveys"`
	AnalysedFeedbacks int64     `json:"analysed_feedbacks"`
	SentimentScore    float64   `json:"sentiment_score"`
	OverallSentiment  Sentiment `json:"overall_sentiment,omitempty"`
}

// SentimentCounts holds the number of documents per sentiment.
type SentimentCounts map[Sentiment]int64

// ComputeStats derives the sentiment figures from the raw counts.
// OverallSentiment stays empty when there are no positive or negative documents.
func ComputeStats(newResponses, activeSurveys int64, counts SentimentCounts) *Stats {
	stats := &Stats{
		NewResponses:  newResponses,
		ActiveSurveys: activeSurveys,
	}

	positive := counts[SentimentPositive]
	negative := counts[SentimentNegative]
	stats.AnalysedFeedbacks = positive + negative + counts[SentimentNeutral]

	if positive > 0 || negative > 0 {
		total := float64(positive + negative)
		positivePct := float64(positive) / total
		negativePct := float64(negative) / total

		stats.SentimentScore = positivePct
		stats.OverallSentiment = SentimentPositive
		if negativePct > positivePct {
			stats.SentimentScore = negativePct
			stats.OverallSentiment = SentimentNegative
		}
	}

	return stats
}
