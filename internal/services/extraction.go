package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"feedback-insights/internal/middleware"
	"feedback-insights/internal/models"
	"feedback-insights/internal/openai"

	"go.opentelemetry.io/otel/attribute"
)

const extractionSystemPrompt = `You analyse free-text feedback from survey responses.
Answer with a single JSON object of the form
{"sentiment": "positive|negative|neutral", "insights": [{"title": "...", "description": "...", "category": "complaint|featureRequest|praise|other"}]}.
An insight is one distinct theme of the feedback. Titles are short and general
enough to be shared by other respondents; descriptions are one sentence.
Return an empty insights list when the feedback has no actionable theme.`

// Extraction is what the language model found in one piece of feedback.
type Extraction struct {
	Sentiment  models.Sentiment   `json:"sentiment"`
	Candidates []models.Candidate `json:"insights"`
}

// ExtractionService asks a chat model for the sentiment and candidate
// insights of a feedback text.
type ExtractionService struct {
	llm ChatCompleter
}

func NewExtractionService(llm ChatCompleter) *ExtractionService {
	return &ExtractionService{llm: llm}
}

// Extract returns the sentiment and candidates of text. Candidates without a
// title are dropped and unknown categories become "other".
func (s *ExtractionService) Extract(ctx context.Context, text string) (*Extraction, error) {
	ctx, span := middleware.StartSpan(ctx, "Extraction.Extract",
		attribute.Int("content_length", len(text)),
	)
	defer span.End()

	response, err := s.llm.ChatCompletion(ctx, []openai.ChatMessage{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: text},
	}, true)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to extract insights: %w", err)
	}

	extraction, err := parseExtraction(response)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	middleware.AddSpanEvent(ctx, "extraction_completed",
		attribute.String("sentiment", string(extraction.Sentiment)),
		attribute.Int("candidates", len(extraction.Candidates)),
	)

	return extraction, nil
}

func parseExtraction(response string) (*Extraction, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")

	var raw Extraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &raw); err != nil {
		return nil, models.NewProviderError("chat", 0, fmt.Errorf("malformed extraction: %w", err))
	}

	extraction := &Extraction{
		Sentiment:  models.Sentiment(strings.ToLower(string(raw.Sentiment))),
		Candidates: make([]models.Candidate, 0, len(raw.Candidates)),
	}
	if !extraction.Sentiment.Valid() {
		extraction.Sentiment = models.SentimentNeutral
	}

	for _, c := range raw.Candidates {
		c.Title = strings.TrimSpace(c.Title)
		c.Description = strings.TrimSpace(c.Description)
		if c.Title == "" {
			continue
		}
		if !c.Category.Valid() {
			c.Category = models.CategoryOther
		}
		extraction.Candidates = append(extraction.Candidates, c)
	}

	return extraction, nil
}
