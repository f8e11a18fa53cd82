package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"feedback-insights/internal/models"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsightRepositoryImpl stores insights and their document links.
// Nearest-neighbour lookups use pgvector on Postgres and an exact scan elsewhere.
type InsightRepositoryImpl struct {
	db *gorm.DB
}

// NewInsightRepository creates a new insight repository
func NewInsightRepository(db *gorm.DB) *InsightRepositoryImpl {
	return &InsightRepositoryImpl{db: db}
}

// Create persists a new insight. An id is generated unless one is supplied;
// a supplied id that already exists yields models.ErrConflict.
func (r *InsightRepositoryImpl) Create(ctx context.Context, insight *models.Insight) (*models.Insight, error) {
	if insight.ID != "" {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Insight{}).Where("id = ?", insight.ID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check insight id: %w", err)
		}
		if count > 0 {
			return nil, fmt.Errorf("insight %s: %w", insight.ID, models.ErrConflict)
		}
	}

	if err := r.db.WithContext(ctx).Create(insight).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("insight %s: %w", insight.ID, models.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create insight: %w", err)
	}

	return insight, nil
}

// GetByID retrieves an insight by its KSUID
func (r *InsightRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Insight, error) {
	var insight models.Insight

	err := r.db.WithContext(ctx).First(&insight, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("insight %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get insight: %w", err)
	}

	return &insight, nil
}

// FindNearest returns up to limit insights of one environment whose cosine
// distance to query is at most maxDistance, closest first.
func (r *InsightRepositoryImpl) FindNearest(ctx context.Context, environmentID string, query []float32, limit int, maxDistance float64) ([]*models.NearestInsight, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", models.ErrInvalidInput)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", models.ErrInvalidInput)
	}

	if r.db.Dialector.Name() == "postgres" {
		return r.findNearestPgvector(ctx, environmentID, query, limit, maxDistance)
	}
	return r.findNearestScan(ctx, environmentID, query, limit, maxDistance)
}

// findNearestPgvector lets Postgres rank candidates with the <=> (cosine distance) operator.
// The environment filter sits in the same WHERE clause as the distance cut-off.
func (r *InsightRepositoryImpl) findNearestPgvector(ctx context.Context, environmentID string, query []float32, limit int, maxDistance float64) ([]*models.NearestInsight, error) {
	vec := pgvector.NewVector(query)

	var results []*models.NearestInsight
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			id, environment_id, title, description, category, vector, created_at, updated_at,
			vector <=> ? AS distance
		FROM insights
		WHERE environment_id = ? AND (vector <=> ?) <= ?
		ORDER BY vector <=> ?
		LIMIT ?
	`, vec, environmentID, vec, maxDistance, vec, limit).Scan(&results).Error

	if err != nil {
		return nil, fmt.Errorf("failed to find nearest insights: %w", err)
	}

	return results, nil
}

// findNearestScan loads the environment's insights and ranks them in process.
func (r *InsightRepositoryImpl) findNearestScan(ctx context.Context, environmentID string, query []float32, limit int, maxDistance float64) ([]*models.NearestInsight, error) {
	var insights []*models.Insight
	if err := r.db.WithContext(ctx).Where("environment_id = ?", environmentID).Order("id ASC").Find(&insights).Error; err != nil {
		return nil, fmt.Errorf("failed to load insights: %w", err)
	}

	results := make([]*models.NearestInsight, 0, limit)
	for _, insight := range insights {
		distance, ok := CosineDistance(query, insight.Vector.Slice())
		if !ok || distance > maxDistance {
			continue
		}
		results = append(results, &models.NearestInsight{Insight: *insight, Distance: distance})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// LinkDocument records that a document contributed to an insight.
// Linking the same pair twice is a no-op.
func (r *InsightRepositoryImpl) LinkDocument(ctx context.Context, documentID, insightID string) error {
	var doc models.Document
	err := r.db.WithContext(ctx).Select("id, environment_id").First(&doc, "id = ?", documentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up document: %w", err)
	}

	var insight models.Insight
	err = r.db.WithContext(ctx).Select("id, environment_id").First(&insight, "id = ?", insightID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("insight %s: %w", insightID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up insight: %w", err)
	}

	if doc.EnvironmentID != insight.EnvironmentID {
		return fmt.Errorf("%w: document %s and insight %s belong to different environments",
			models.ErrInvalidInput, documentID, insightID)
	}

	link := &models.DocumentInsight{DocumentID: documentID, InsightID: insightID}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(link).Error; err != nil {
		return fmt.Errorf("failed to link document to insight: %w", err)
	}

	return nil
}

// ListByEnvironment returns an environment's insights, newest first, with
// the number of documents linked to each.
func (r *InsightRepositoryImpl) ListByEnvironment(ctx context.Context, environmentID string, limit, offset int) ([]*models.InsightSummary, error) {
	var summaries []*models.InsightSummary

	err := r.db.WithContext(ctx).
		Table("insights").
		Select("insights.*, COUNT(document_insights.document_id) AS document_count").
		Joins("LEFT JOIN document_insights ON document_insights.insight_id = insights.id").
		Where("insights.environment_id = ?", environmentID).
		Group("insights.id").
		Order("insights.id DESC").
		Limit(limit).
		Offset(offset).
		Scan(&summaries).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}

	return summaries, nil
}

// CountByEnvironment returns how many insights an environment has.
func (r *InsightRepositoryImpl) CountByEnvironment(ctx context.Context, environmentID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Insight{}).Where("environment_id = ?", environmentID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count insights: %w", err)
	}
	return count, nil
}

// CosineDistance returns 1 - cos(a, b). ok is false when the vectors differ
// in length or either has zero magnitude.
func CosineDistance(a, b []float32) (distance float64, ok bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), true
}
