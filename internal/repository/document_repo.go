package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedback-insights/internal/models"

	"gorm.io/gorm"
)

// DocumentRepositoryImpl handles all database operations for documents using GORM.
// Consumers declare the interface they need.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Create inserts a new pending document for an environment.
// The KSUID is auto-generated in the BeforeCreate hook.
func (r *DocumentRepositoryImpl) Create(ctx context.Context, environmentID string, doc *models.DocumentCreate) (*models.Document, error) {
	if environmentID == "" {
		return nil, fmt.Errorf("%w: environment id is required", models.ErrInvalidInput)
	}
	if doc.Text == "" {
		return nil, fmt.Errorf("%w: document text is empty", models.ErrInvalidInput)
	}

	document := &models.Document{
		EnvironmentID: environmentID,
		SurveyID:      doc.SurveyID,
		QuestionID:    doc.QuestionID,
		ResponseID:    doc.ResponseID,
		Text:          doc.Text,
		Status:        models.StatusPending,
	}
	if doc.SurveyID != "" && doc.QuestionID != "" {
		document.ReferenceID = models.QuestionResponseReferenceID(doc.SurveyID, doc.QuestionID)
	}

	if err := r.db.WithContext(ctx).Create(document).Error; err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return document, nil
}

// GetByID retrieves a document by its KSUID
func (r *DocumentRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// ListByEnvironment returns the documents of an environment, newest first.
// KSUIDs are time-ordered, so sorting by id is sorting by creation time.
func (r *DocumentRepositoryImpl) ListByEnvironment(ctx context.Context, environmentID string, limit, offset int) ([]*models.Document, error) {
	var documents []*models.Document

	err := r.db.WithContext(ctx).
		Where("environment_id = ?", environmentID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&documents).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return documents, nil
}

// ListByStatus returns up to limit documents of an environment in a given
// processing status, oldest first.
func (r *DocumentRepositoryImpl) ListByStatus(ctx context.Context, environmentID string, status models.ProcessingStatus, limit int) ([]*models.Document, error) {
	var documents []*models.Document

	err := r.db.WithContext(ctx).
		Where("environment_id = ? AND status = ?", environmentID, status).
		Order("id ASC").
		Limit(limit).
		Find(&documents).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list %s documents: %w", status, err)
	}

	return documents, nil
}

// ListStalePending returns up to limit pending documents of an environment
// not updated since before, oldest first. These were queued by a process that
// never ran them.
func (r *DocumentRepositoryImpl) ListStalePending(ctx context.Context, environmentID string, before time.Time, limit int) ([]*models.Document, error) {
	var documents []*models.Document

	err := r.db.WithContext(ctx).
		Where("environment_id = ? AND status = ? AND updated_at < ?", environmentID, models.StatusPending, before).
		Order("id ASC").
		Limit(limit).
		Find(&documents).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending documents: %w", err)
	}

	return documents, nil
}

// MarkProcessed stores the extracted sentiment and clears any previous error.
func (r *DocumentRepositoryImpl) MarkProcessed(ctx context.Context, id string, sentiment models.Sentiment) error {
	return r.updateStatus(ctx, id, map[string]any{
		"status":    models.StatusProcessed,
		"sentiment": sentiment,
		"error":     "",
	})
}

// MarkFailed records why insight extraction failed so the document can be reprocessed.
func (r *DocumentRepositoryImpl) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.updateStatus(ctx, id, map[string]any{
		"status": models.StatusFailed,
		"error":  reason,
	})
}

// MarkPending puts a document back in the queue state.
func (r *DocumentRepositoryImpl) MarkPending(ctx context.Context, id string) error {
	return r.updateStatus(ctx, id, map[string]any{
		"status": models.StatusPending,
	})
}

func (r *DocumentRepositoryImpl) updateStatus(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}

	return nil
}

// Delete removes a document. Its insight links go with it; insights stay.
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&models.DocumentInsight{}).Error; err != nil {
			return fmt.Errorf("failed to delete document links: %w", err)
		}

		result := tx.Delete(&models.Document{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete document: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
		}
		return nil
	})
}

// Stats aggregates response and sentiment counts of an environment,
// optionally restricted to documents created at or after from.
func (r *DocumentRepositoryImpl) Stats(ctx context.Context, environmentID string, from *time.Time) (*models.Stats, error) {
	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&models.Document{}).Where("environment_id = ?", environmentID)
		if from != nil {
			q = q.Where("created_at >= ?", *from)
		}
		return q
	}

	var newResponses int64
	if err := scoped().Where("response_id <> ''").Distinct("response_id").Count(&newResponses).Error; err != nil {
		return nil, fmt.Errorf("failed to count responses: %w", err)
	}

	var activeSurveys int64
	if err := scoped().Where("survey_id <> ''").Distinct("survey_id").Count(&activeSurveys).Error; err != nil {
		return nil, fmt.Errorf("failed to count surveys: %w", err)
	}

	var rows []struct {
		Sentiment models.Sentiment
		Count     int64
	}
	err := scoped().
		Select("sentiment, COUNT(*) AS count").
		Where("sentiment <> ''").
		Group("sentiment").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count sentiments: %w", err)
	}

	counts := make(models.SentimentCounts, len(rows))
	for _, row := range rows {
		counts[row.Sentiment] = row.Count
	}

	return models.ComputeStats(newResponses, activeSurveys, counts), nil
}
