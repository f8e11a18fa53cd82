package services

import (
	"context"
	"time"

	"feedback-insights/internal/models"
	"feedback-insights/internal/openai"
)

// Interfaces live with their consumer. Repositories return concrete structs
// and services declare only the methods they call.

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// InsightStore is what the resolver needs from insight storage.
type InsightStore interface {
	FindNearest(ctx context.Context, environmentID string, query []float32, limit int, maxDistance float64) ([]*models.NearestInsight, error)
	Create(ctx context.Context, insight *models.Insight) (*models.Insight, error)
	LinkDocument(ctx context.Context, documentID, insightID string) error
}

// InvalidationSink receives an event after every successful resolution and
// every document status change.
type InvalidationSink interface {
	Revalidate(ctx context.Context, event models.InvalidationEvent) error
}

// DocumentRepository is what the processing pipeline needs from document storage.
type DocumentRepository interface {
	Create(ctx context.Context, environmentID string, doc *models.DocumentCreate) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ListByStatus(ctx context.Context, environmentID string, status models.ProcessingStatus, limit int) ([]*models.Document, error)
	ListStalePending(ctx context.Context, environmentID string, before time.Time, limit int) ([]*models.Document, error)
	MarkProcessed(ctx context.Context, id string, sentiment models.Sentiment) error
	MarkFailed(ctx context.Context, id string, reason string) error
	MarkPending(ctx context.Context, id string) error
}

// ChatCompleter is the language model used for insight extraction.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, messages []openai.ChatMessage, jsonMode bool) (string, error)
}

// Extractor proposes a sentiment and candidate insights for a feedback text.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Extraction, error)
}

// Resolver deduplicates one candidate against an environment's insights.
type Resolver interface {
	ResolveInsight(ctx context.Context, environmentID, documentID string, candidate models.Candidate) (*Resolution, error)
}

// InsightReader backs the read side of the API.
type InsightReader interface {
	GetByID(ctx context.Context, id string) (*models.Insight, error)
	ListByEnvironment(ctx context.Context, environmentID string, limit, offset int) ([]*models.InsightSummary, error)
}

// LinkReader lists the documents behind an insight.
type LinkReader interface {
	GetDocumentsForInsight(ctx context.Context, insightID string, limit, offset int) ([]*models.Document, error)
}

// LinkRemover deletes a single document to insight link.
type LinkRemover interface {
	UnlinkDocument(ctx context.Context, documentID, insightID string) error
}

// StatsSource aggregates the response and sentiment counts of an environment.
type StatsSource interface {
	Stats(ctx context.Context, environmentID string, from *time.Time) (*models.Stats, error)
}
