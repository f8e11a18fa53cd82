package repository

import (
	"context"
	"fmt"

	"feedback-insights/internal/models"

	"gorm.io/gorm"
)

/*
Document ↔ insight links

A document contributes to zero or more insights; an insight gathers every
document that was merged into it.

  Document A ──┐
  Document B ──┼──▶ Insight "Slow checkout"
  Document C ──┘

Writes happen through InsightRepositoryImpl.LinkDocument during resolution;
this repository serves the read side.
*/

// LinkRepositoryImpl reads and removes document_insights rows
type LinkRepositoryImpl struct {
	db *gorm.DB
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *gorm.DB) *LinkRepositoryImpl {
	return &LinkRepositoryImpl{db: db}
}

// GetDocumentsForInsight returns the documents merged into an insight, newest first.
func (r *LinkRepositoryImpl) GetDocumentsForInsight(ctx context.Context, insightID string, limit, offset int) ([]*models.Document, error) {
	var documents []*models.Document

	err := r.db.WithContext(ctx).
		Joins("JOIN document_insights ON document_insights.document_id = documents.id").
		Where("document_insights.insight_id = ?", insightID).
		Order("documents.id DESC").
		Limit(limit).
		Offset(offset).
		Find(&documents).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get documents for insight: %w", err)
	}

	return documents, nil
}

// GetInsightsForDocument returns every insight a document is linked to.
func (r *LinkRepositoryImpl) GetInsightsForDocument(ctx context.Context, documentID string) ([]*models.Insight, error) {
	var insights []*models.Insight

	err := r.db.WithContext(ctx).
		Joins("JOIN document_insights ON document_insights.insight_id = insights.id").
		Where("document_insights.document_id = ?", documentID).
		Order("insights.id ASC").
		Find(&insights).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get insights for document: %w", err)
	}

	return insights, nil
}

// CountDocuments returns how many documents are linked to an insight.
func (r *LinkRepositoryImpl) CountDocuments(ctx context.Context, insightID string) (int64, error) {
	var count int64

	if err := r.db.WithContext(ctx).Model(&models.DocumentInsight{}).
		Where("insight_id = ?", insightID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count linked documents: %w", err)
	}

	return count, nil
}

// UnlinkDocument removes a single document ↔ insight link.
func (r *LinkRepositoryImpl) UnlinkDocument(ctx context.Context, documentID, insightID string) error {
	result := r.db.WithContext(ctx).
		Where("document_id = ? AND insight_id = ?", documentID, insightID).
		Delete(&models.DocumentInsight{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete link: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("link %s/%s: %w", documentID, insightID, models.ErrNotFound)
	}

	return nil
}
