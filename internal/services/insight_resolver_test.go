package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"feedback-insights/internal/config"
	"feedback-insights/internal/db"
	"feedback-insights/internal/models"
	"feedback-insights/internal/repository"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

var slowCheckout = models.Candidate{
	Title:       "Slow checkout",
	Description: "Users report checkout is slow",
	Category:    models.CategoryComplaint,
}

func seedMemInsight(store *memStore, environmentID, title string, vec []float32) *models.Insight {
	insight, _ := store.Create(context.Background(), &models.Insight{
		EnvironmentID: environmentID,
		Title:         title,
		Description:   title,
		Category:      models.CategoryComplaint,
		Vector:        pgvector.NewVector(vec),
	})
	return insight
}

func TestResolveInsight_CreatesInEmptyEnvironment(t *testing.T) {
	embedder := newFakeEmbedder()
	store := newMemStore()
	sink := &recordingSink{}
	resolver := NewInsightResolver(embedder, store, sink, config.DefaultInsightMaxDistance)

	res, err := resolver.ResolveInsight(context.Background(), "env-a", "doc-1", slowCheckout)
	require.NoError(t, err)

	assert.True(t, res.Created)
	insights := store.insightsIn("env-a")
	require.Len(t, insights, 1)
	assert.Equal(t, res.InsightID, insights[0].ID)
	assert.Equal(t, "Slow checkout", insights[0].Title)
	assert.Equal(t, models.CategoryComplaint, insights[0].Category)
	assert.True(t, store.links[link{"doc-1", res.InsightID}])

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.InvalidationCreated, events[0].Kind)
	assert.Equal(t, "env-a", events[0].EnvironmentID)
	assert.Equal(t, res.InsightID, events[0].InsightID)
	assert.Equal(t, "doc-1", events[0].DocumentID)
}

func TestResolveInsight_MergesNearDuplicate(t *testing.T) {
	embedder := newFakeEmbedder()
	store := newMemStore()
	sink := &recordingSink{}
	resolver := NewInsightResolver(embedder, store, sink, config.DefaultInsightMaxDistance)

	existing := seedMemInsight(store, "env-a", "Checkout takes too long", []float32{1, 0})
	embedder.set(slowCheckout.Title, slowCheckout.Description, unitVector(0.2))

	res, err := resolver.ResolveInsight(context.Background(), "env-a", "doc-2", slowCheckout)
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, existing.ID, res.InsightID)
	assert.InDelta(t, 0.2, res.Distance, 1e-4)
	assert.Equal(t, 1, store.creates)
	assert.True(t, store.links[link{"doc-2", existing.ID}])

	// merging never touches the existing insight
	assert.Equal(t, "Checkout takes too long", existing.Title)
	assert.Equal(t, []float32{1, 0}, existing.Vector.Slice())

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.InvalidationMerged, events[0].Kind)
	assert.Equal(t, existing.ID, events[0].InsightID)
}

func TestResolveInsight_CreatesDistinctTopic(t *testing.T) {
	embedder := newFakeEmbedder()
	store := newMemStore()
	resolver := NewInsightResolver(embedder, store, nil, config.DefaultInsightMaxDistance)

	seedMemInsight(store, "env-a", "Checkout takes too long", []float32{1, 0})
	embedder.set(slowCheckout.Title, slowCheckout.Description, unitVector(0.5))

	res, err := resolver.ResolveInsight(context.Background(), "env-a", "doc-3", slowCheckout)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Len(t, store.insightsIn("env-a"), 2)
	assert.True(t, store.links[link{"doc-3", res.InsightID}])
}

func TestResolveInsight_EmbeddingFailureWritesNothing(t *testing.T) {
	embedder := newFakeEmbedder()
	embedder.err = models.NewProviderError("embed", 503, errBoom)
	store := newMemStore()
	sink := &recordingSink{}
	resolver := NewInsightResolver(embedder, store, sink, config.DefaultInsightMaxDistance)

	_, err := resolver.ResolveInsight(context.Background(), "env-a", "doc-4", slowCheckout)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProvider)
	assert.Zero(t, store.creates)
	assert.Zero(t, store.linkCount())
	assert.Empty(t, sink.all())
}

func TestResolveInsight_Threshold(t *testing.T) {
	cases := []struct {
		distance float64
		merged   bool
	}{
		{0.0, true},
		{0.2, true},
		{0.34, true},
		{0.36, false},
		{0.8, false},
	}

	for _, tc := range cases {
		embedder := newFakeEmbedder()
		store := newMemStore()
		resolver := NewInsightResolver(embedder, store, nil, config.DefaultInsightMaxDistance)

		existing := seedMemInsight(store, "env-a", "existing", []float32{1, 0})
		embedder.set(slowCheckout.Title, slowCheckout.Description, unitVector(tc.distance))

		res, err := resolver.ResolveInsight(context.Background(), "env-a", "doc-1", slowCheckout)
		require.NoError(t, err)

		if tc.merged {
			assert.Equal(t, existing.ID, res.InsightID, "distance %.2f should merge", tc.distance)
			assert.False(t, res.Created)
		} else {
			assert.NotEqual(t, existing.ID, res.InsightID, "distance %.2f should create", tc.distance)
			assert.True(t, res.Created)
		}
	}
}

func TestResolveInsight_MergesAtExactThreshold(t *testing.T) {
	stored := []float32{0.5, 0.1, 0.9}
	query := []float32{0.3, 0.7, 0.2}
	threshold, ok := repository.CosineDistance(query, stored)
	require.True(t, ok)

	embedder := newFakeEmbedder()
	store := newMemStore()
	resolver := NewInsightResolver(embedder, store, nil, threshold)

	existing := seedMemInsight(store, "env-a", "existing", stored)
	embedder.set(slowCheckout.Title, slowCheckout.Description, query)

	res, err := resolver.ResolveInsight(context.Background(), "env-a", "doc-1", slowCheckout)
	require.NoError(t, err)
	assert.False(t, res.Created, "distance equal to the threshold merges")
	assert.Equal(t, existing.ID, res.InsightID)
	assert.Equal(t, threshold, res.Distance)
}

func TestResolveInsight_TenantIsolation(t *testing.T) {
	embedder := newFakeEmbedder()
	store := newMemStore()
	resolver := NewInsightResolver(embedder, store, nil, config.DefaultInsightMaxDistance)

	other := seedMemInsight(store, "env-b", "Slow checkout", []float32{1, 0})
	embedder.set(slowCheckout.Title, slowCheckout.Description, []float32{1, 0})

	res, err := resolver.ResolveInsight(context.Background(), "env-a", "doc-1", slowCheckout)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.NotEqual(t, other.ID, res.InsightID)
	assert.Len(t, store.insightsIn("env-a"), 1)
	assert.Len(t, store.insightsIn("env-b"), 1)
}

func TestResolveInsight_RepeatIsIdempotent(t *testing.T) {
	embedder := newFakeEmbedder()
	store := newMemStore()
	resolver := NewInsightResolver(embedder, store, nil, config.DefaultInsightMaxDistance)
	ctx := context.Background()

	first, err := resolver.ResolveInsight(ctx, "env-a", "doc-1", slowCheckout)
	require.NoError(t, err)
	second, err := resolver.ResolveInsight(ctx, "env-a", "doc-1", slowCheckout)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.InsightID, second.InsightID)
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 1, store.linkCount())
}

func TestResolveInsight_InvalidCandidate(t *testing.T) {
	embedder := newFakeEmbedder()
	store := newMemStore()
	resolver := NewInsightResolver(embedder, store, nil, config.DefaultInsightMaxDistance)
	ctx := context.Background()

	_, err := resolver.ResolveInsight(ctx, "env-a", "doc-1", models.Candidate{Title: "  ", Category: models.CategoryOther})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = resolver.ResolveInsight(ctx, "env-a", "doc-1", models.Candidate{Title: "x", Category: "bug"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = resolver.ResolveInsight(ctx, "", "doc-1", slowCheckout)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	assert.Zero(t, embedder.calls)
}

func TestResolveInsight_StoreFailures(t *testing.T) {
	t.Run("search", func(t *testing.T) {
		store := newMemStore()
		store.findErr = errBoom
		sink := &recordingSink{}
		resolver := NewInsightResolver(newFakeEmbedder(), store, sink, config.DefaultInsightMaxDistance)

		_, err := resolver.ResolveInsight(context.Background(), "env-a", "doc-1", slowCheckout)

		assert.ErrorIs(t, err, errBoom)
		assert.Zero(t, store.creates)
		assert.Empty(t, sink.all())
	})

	t.Run("link after create", func(t *testing.T) {
		store := newMemStore()
		store.linkErr = models.ErrNotFound
		resolver := NewInsightResolver(newFakeEmbedder(), store, nil, config.DefaultInsightMaxDistance)

		_, err := resolver.ResolveInsight(context.Background(), "env-a", "missing-doc", slowCheckout)

		assert.ErrorIs(t, err, models.ErrNotFound)
		// no compensating delete of the insight
		assert.Len(t, store.insightsIn("env-a"), 1)
	})
}

func TestResolveInsight_SinkFailureDoesNotFailResolution(t *testing.T) {
	store := newMemStore()
	sink := &recordingSink{err: errBoom}
	resolver := NewInsightResolver(newFakeEmbedder(), store, sink, config.DefaultInsightMaxDistance)

	res, err := resolver.ResolveInsight(context.Background(), "env-a", "doc-1", slowCheckout)

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Len(t, sink.all(), 1)
}

func TestResolveInsight_EnvironmentLockPreventsDuplicates(t *testing.T) {
	embedder := newFakeEmbedder()
	store := newMemStore()
	store.createDelay = 5 * time.Millisecond
	resolver := NewInsightResolver(embedder, store, nil, config.DefaultInsightMaxDistance, WithEnvironmentLock(true))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := resolver.ResolveInsight(context.Background(), "env-a", docID(i), slowCheckout)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.insightsIn("env-a"), 1)
	assert.Equal(t, 10, store.linkCount())
	assert.Empty(t, resolver.locks.locks, "locks are released")
}

func docID(i int) string {
	return "doc-" + string(rune('a'+i))
}

// The same scenarios against the gorm repositories on sqlite.
func TestResolveInsight_WithRepositories(t *testing.T) {
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "resolver.db"), logger.Silent)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	docs := repository.NewDocumentRepository(database.DB)
	insights := repository.NewInsightRepository(database.DB)
	links := repository.NewLinkRepository(database.DB)
	embedder := newFakeEmbedder()
	resolver := NewInsightResolver(embedder, insights, nil, config.DefaultInsightMaxDistance)
	ctx := context.Background()

	newDoc := func(env, text string) *models.Document {
		doc, err := docs.Create(ctx, env, &models.DocumentCreate{Text: text})
		require.NoError(t, err)
		return doc
	}

	embedder.set("Slow checkout", "Users report checkout is slow", []float32{1, 0})
	embedder.set("Checkout lag", "Checkout feels laggy", unitVector(0.2))
	embedder.set("Dark mode", "Users want a dark theme", unitVector(0.9))

	// A: empty environment
	doc1 := newDoc("env-a", "checkout is so slow")
	a, err := resolver.ResolveInsight(ctx, "env-a", doc1.ID, slowCheckout)
	require.NoError(t, err)
	require.True(t, a.Created)

	// B: near duplicate merges
	doc2 := newDoc("env-a", "checkout lags")
	b, err := resolver.ResolveInsight(ctx, "env-a", doc2.ID, models.Candidate{
		Title: "Checkout lag", Description: "Checkout feels laggy", Category: models.CategoryComplaint,
	})
	require.NoError(t, err)
	assert.False(t, b.Created)
	assert.Equal(t, a.InsightID, b.InsightID)

	// C: distinct topic creates
	doc3 := newDoc("env-a", "please add dark mode")
	c, err := resolver.ResolveInsight(ctx, "env-a", doc3.ID, models.Candidate{
		Title: "Dark mode", Description: "Users want a dark theme", Category: models.CategoryFeatureRequest,
	})
	require.NoError(t, err)
	assert.True(t, c.Created)

	count, err := insights.CountByEnvironment(ctx, "env-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	linked, err := links.CountDocuments(ctx, a.InsightID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), linked)

	// tenant isolation
	doc4 := newDoc("env-b", "checkout is so slow")
	d, err := resolver.ResolveInsight(ctx, "env-b", doc4.ID, slowCheckout)
	require.NoError(t, err)
	assert.True(t, d.Created)
	assert.NotEqual(t, a.InsightID, d.InsightID)

	// D: provider failure leaves nothing behind
	embedder.err = models.NewProviderError("embed", 0, errBoom)
	doc5 := newDoc("env-a", "anything")
	_, err = resolver.ResolveInsight(ctx, "env-a", doc5.ID, slowCheckout)
	assert.ErrorIs(t, err, models.ErrProvider)

	count, err = insights.CountByEnvironment(ctx, "env-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	linkedInsights, err := links.GetInsightsForDocument(ctx, doc5.ID)
	require.NoError(t, err)
	assert.Empty(t, linkedInsights)
}
