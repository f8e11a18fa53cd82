package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"feedback-insights/internal/models"
	"feedback-insights/internal/repository"

	"github.com/segmentio/ksuid"
)

// unitVector returns a 2-d unit vector whose cosine distance to (1, 0) is distance.
func unitVector(distance float64) []float32 {
	cos := 1 - distance
	sin := math.Sqrt(1 - cos*cos)
	return []float32{float32(cos), float32(sin)}
}

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (e *fakeEmbedder) set(title, description string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[models.InsightVectorText(title, description)] = vec
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vec, ok := e.vectors[text]
	if !ok {
		return []float32{1, 0}, nil
	}
	return vec, nil
}

type link struct{ documentID, insightID string }

// memStore is an in-memory InsightStore.
type memStore struct {
	mu       sync.Mutex
	insights []*models.Insight
	links    map[link]bool
	creates  int

	createDelay time.Duration
	findErr     error
	linkErr     error
}

func newMemStore() *memStore {
	return &memStore{links: make(map[link]bool)}
}

func (s *memStore) FindNearest(_ context.Context, environmentID string, query []float32, limit int, maxDistance float64) ([]*models.NearestInsight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findErr != nil {
		return nil, s.findErr
	}

	var best *models.NearestInsight
	for _, insight := range s.insights {
		if insight.EnvironmentID != environmentID {
			continue
		}
		d, ok := repository.CosineDistance(query, insight.Vector.Slice())
		if !ok || d > maxDistance {
			continue
		}
		if best == nil || d < best.Distance {
			best = &models.NearestInsight{Insight: *insight, Distance: d}
		}
	}
	if best == nil {
		return nil, nil
	}
	return []*models.NearestInsight{best}, nil
}

func (s *memStore) Create(_ context.Context, insight *models.Insight) (*models.Insight, error) {
	if s.createDelay > 0 {
		time.Sleep(s.createDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if insight.ID == "" {
		insight.ID = ksuid.New().String()
	}
	s.insights = append(s.insights, insight)
	s.creates++
	return insight, nil
}

func (s *memStore) LinkDocument(_ context.Context, documentID, insightID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.linkErr != nil {
		return s.linkErr
	}
	for _, insight := range s.insights {
		if insight.ID == insightID {
			s.links[link{documentID, insightID}] = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *memStore) insightsIn(environmentID string) []*models.Insight {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Insight
	for _, insight := range s.insights {
		if insight.EnvironmentID == environmentID {
			out = append(out, insight)
		}
	}
	return out
}

func (s *memStore) linkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.InvalidationEvent
	err    error
}

func (s *recordingSink) Revalidate(_ context.Context, event models.InvalidationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) all() []models.InvalidationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InvalidationEvent(nil), s.events...)
}

var errBoom = errors.New("boom")
