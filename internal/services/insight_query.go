package services

import (
	"context"
	"time"

	"feedback-insights/internal/cache"
	"feedback-insights/internal/middleware"
	"feedback-insights/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// InsightQueryService answers the read side (insight listings, linked
// documents, experience stats) through the insight cache.
type InsightQueryService struct {
	insights InsightReader
	links    LinkReader
	stats    StatsSource
	cache    *cache.InsightCache
}

func NewInsightQueryService(insights InsightReader, links LinkReader, stats StatsSource, c *cache.InsightCache) *InsightQueryService {
	return &InsightQueryService{
		insights: insights,
		links:    links,
		stats:    stats,
		cache:    c,
	}
}

// NormalizePage clamps paging parameters to sane values.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *InsightQueryService) GetInsight(ctx context.Context, id string) (*models.Insight, error) {
	key := s.cache.InsightKey(id)
	if insight, ok := cache.Lookup[*models.Insight](s.cache, key); ok {
		return insight, nil
	}

	insight, err := s.insights.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Store(key, insight)
	return insight, nil
}

// ListInsights returns a page of an environment's insights, newest first.
func (s *InsightQueryService) ListInsights(ctx context.Context, environmentID string, limit, offset int) ([]*models.InsightSummary, error) {
	limit, offset = NormalizePage(limit, offset)

	ctx, span := middleware.StartSpan(ctx, "InsightQuery.ListInsights",
		attribute.String("environment.id", environmentID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)
	defer span.End()

	key := s.cache.InsightListKey(environmentID, limit, offset)
	if list, ok := cache.Lookup[[]*models.InsightSummary](s.cache, key); ok {
		middleware.AddSpanEvent(ctx, "cache_hit")
		return list, nil
	}

	list, err := s.insights.ListByEnvironment(ctx, environmentID, limit, offset)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	s.cache.Store(key, list)
	return list, nil
}

// ListInsightDocuments returns a page of the documents linked to an insight.
func (s *InsightQueryService) ListInsightDocuments(ctx context.Context, insightID string, limit, offset int) ([]*models.Document, error) {
	limit, offset = NormalizePage(limit, offset)

	insight, err := s.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}

	key := s.cache.InsightDocumentsKey(insight.EnvironmentID, insightID, limit, offset)
	if docs, ok := cache.Lookup[[]*models.Document](s.cache, key); ok {
		return docs, nil
	}

	docs, err := s.links.GetDocumentsForInsight(ctx, insightID, limit, offset)
	if err != nil {
		return nil, err
	}
	s.cache.Store(key, docs)
	return docs, nil
}

// GetStats returns the experience stats of an environment, optionally
// restricted to documents created at or after from.
func (s *InsightQueryService) GetStats(ctx context.Context, environmentID string, from *time.Time) (*models.Stats, error) {
	ctx, span := middleware.StartSpan(ctx, "InsightQuery.GetStats",
		attribute.String("environment.id", environmentID),
	)
	defer span.End()

	key := s.cache.StatsKey(environmentID, from)
	if stats, ok := cache.Lookup[*models.Stats](s.cache, key); ok {
		middleware.AddSpanEvent(ctx, "cache_hit")
		return stats, nil
	}

	stats, err := s.stats.Stats(ctx, environmentID, from)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	s.cache.Store(key, stats)
	return stats, nil
}
