package repository

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"feedback-insights/internal/db"
	"feedback-insights/internal/models"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), logger.Silent)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database.DB
}

// unitVector returns a 2-d unit vector whose cosine distance to (1, 0) is distance.
func unitVector(distance float64) []float32 {
	cos := 1 - distance
	sin := math.Sqrt(1 - cos*cos)
	return []float32{float32(cos), float32(sin)}
}

func seedDocument(t *testing.T, repo *DocumentRepositoryImpl, environmentID, text string) *models.Document {
	t.Helper()
	doc, err := repo.Create(context.Background(), environmentID, &models.DocumentCreate{
		SurveyID:   "survey-1",
		QuestionID: "question-1",
		ResponseID: "response-" + text,
		Text:       text,
	})
	require.NoError(t, err)
	return doc
}

func seedInsight(t *testing.T, repo *InsightRepositoryImpl, environmentID, title string, vec []float32) *models.Insight {
	t.Helper()
	insight, err := repo.Create(context.Background(), &models.Insight{
		EnvironmentID: environmentID,
		Title:         title,
		Description:   title + " description",
		Category:      models.CategoryComplaint,
		Vector:        pgvector.NewVector(vec),
	})
	require.NoError(t, err)
	return insight
}
