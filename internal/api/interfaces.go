package api

import (
	"context"
	"time"

	"feedback-insights/internal/models"
	"feedback-insights/internal/services"
)

// Interfaces the handlers need, declared here where they are consumed.

type DocumentStore interface {
	Create(ctx context.Context, environmentID string, doc *models.DocumentCreate) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ListByEnvironment(ctx context.Context, environmentID string, limit, offset int) ([]*models.Document, error)
}

type DocumentProcessor interface {
	Enqueue(ctx context.Context, job services.ProcessingJob) error
	Reprocess(ctx context.Context, environmentID string, limit int) (int, error)
	GetQueueLength() int
}

type InsightResolver interface {
	ResolveInsight(ctx context.Context, environmentID, documentID string, candidate models.Candidate) (*services.Resolution, error)
}

type InsightLinks interface {
	UnlinkDocument(ctx context.Context, insightID, documentID string) error
}

type InsightQueries interface {
	GetInsight(ctx context.Context, id string) (*models.Insight, error)
	ListInsights(ctx context.Context, environmentID string, limit, offset int) ([]*models.InsightSummary, error)
	ListInsightDocuments(ctx context.Context, insightID string, limit, offset int) ([]*models.Document, error)
	GetStats(ctx context.Context, environmentID string, from *time.Time) (*models.Stats, error)
}
