package app

import (
	"context"
	"path/filepath"
	"testing"

	"feedback-insights/internal/config"
	"feedback-insights/internal/models"
	"feedback-insights/internal/openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBDriver:            "sqlite",
		SQLitePath:          filepath.Join(t.TempDir(), "app.db"),
		DBLogLevel:          "silent",
		OpenAIAPIKey:        "sk-test",
		EmbeddingProvider:   "openai",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		ChatModel:           "gpt-4o-mini",
		InsightMaxDistance:  config.DefaultInsightMaxDistance,
		AIEnabled:           true,
		ProcessingWorkers:   1,
		ProcessingQueueSize: 1,
		CacheMaxCost:        100,
	}
}

func TestNew_SQLite(t *testing.T) {
	a, err := New(sqliteConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Listen())
	assert.Nil(t, a.listener, "no LISTEN session without postgres")
	assert.Same(t, a.Bus, a.Events)
	assert.Equal(t, config.DefaultInsightMaxDistance, a.Resolver.MaxDistance())

	doc, err := a.Documents.Create(context.Background(), "env-a", &models.DocumentCreate{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, doc.Status)

	// returns at once when no listener is configured
	a.RunListener(context.Background())
}

func TestNewEmbedder(t *testing.T) {
	cfg := sqliteConfig(t)

	embedder, err := NewEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, embedder)

	cfg.EmbeddingProvider = "compat"
	cfg.OpenAIBaseURL = "http://localhost:11434/v1"
	cfg.EmbeddingModel = "nomic-embed-text"
	embedder, err = NewEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &openai.CompatEmbedder{}, embedder)

	cfg.EmbeddingProvider = "carrier-pigeon"
	_, err = NewEmbedder(cfg)
	assert.Error(t, err)
}
