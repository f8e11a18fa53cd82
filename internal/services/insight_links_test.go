package services

import (
	"context"
	"testing"

	"feedback-insights/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLinks struct {
	removed [][2]string
	err     error
}

func (l *fakeLinks) UnlinkDocument(_ context.Context, documentID, insightID string) error {
	if l.err != nil {
		return l.err
	}
	l.removed = append(l.removed, [2]string{documentID, insightID})
	return nil
}

func TestInsightLinks_UnlinkDocument(t *testing.T) {
	reader := &countingReader{insight: &models.Insight{ID: "ins-1", EnvironmentID: "env-a"}}
	links := &fakeLinks{}
	sink := &recordingSink{}
	svc := NewInsightLinkService(reader, links, sink)

	require.NoError(t, svc.UnlinkDocument(context.Background(), "ins-1", "doc-1"))
	assert.Equal(t, [][2]string{{"doc-1", "ins-1"}}, links.removed)

	recorded := sink.all()
	require.Len(t, recorded, 1)
	assert.Equal(t, models.InvalidationUnlinked, recorded[0].Kind)
	assert.Equal(t, "env-a", recorded[0].EnvironmentID)
	assert.Equal(t, "ins-1", recorded[0].InsightID)
	assert.Equal(t, "doc-1", recorded[0].DocumentID)
}

func TestInsightLinks_UnlinkDocument_Missing(t *testing.T) {
	reader := &countingReader{insight: &models.Insight{ID: "ins-1", EnvironmentID: "env-a"}}
	sink := &recordingSink{}

	svc := NewInsightLinkService(reader, &fakeLinks{}, sink)
	err := svc.UnlinkDocument(context.Background(), "ins-2", "doc-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	svc = NewInsightLinkService(reader, &fakeLinks{err: models.ErrNotFound}, sink)
	err = svc.UnlinkDocument(context.Background(), "ins-1", "doc-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Empty(t, sink.all())
}
