package services

import (
	"context"
	"log"

	"feedback-insights/internal/middleware"
	"feedback-insights/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// InsightLinkService corrects the insight assignment of a document after
// the fact. The insight itself is kept even when its last link goes.
type InsightLinkService struct {
	insights InsightReader
	links    LinkRemover
	sink     InvalidationSink
}

func NewInsightLinkService(insights InsightReader, links LinkRemover, sink InvalidationSink) *InsightLinkService {
	if sink == nil {
		sink = discardSink{}
	}
	return &InsightLinkService{insights: insights, links: links, sink: sink}
}

// UnlinkDocument removes the link between a document and an insight and
// publishes an invalidation for the insight's environment.
func (s *InsightLinkService) UnlinkDocument(ctx context.Context, insightID, documentID string) error {
	ctx, span := middleware.StartSpan(ctx, "InsightLinks.UnlinkDocument",
		attribute.String("insight.id", insightID),
		attribute.String("document.id", documentID),
	)
	defer span.End()

	insight, err := s.insights.GetByID(ctx, insightID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}

	if err := s.links.UnlinkDocument(ctx, documentID, insightID); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}

	event := models.NewInvalidationEvent(models.InvalidationUnlinked, insight.EnvironmentID, insightID, documentID)
	if err := s.sink.Revalidate(ctx, event); err != nil {
		log.Printf("⚠️  Failed to publish invalidation for insight %s: %v", insightID, err)
	}

	return nil
}
