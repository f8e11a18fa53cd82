package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"feedback-insights/internal/middleware"
	"feedback-insights/internal/models"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
)

// Resolution reports what ResolveInsight did with a candidate.
type Resolution struct {
	InsightID string  `json:"insight_id"`
	Created   bool    `json:"created"`
	Distance  float64 `json:"distance"` // distance to the matched insight, 0 when created
}

// InsightResolver decides whether a candidate insight duplicates an existing
// insight of the same environment. A duplicate gets the document linked to it;
// anything else becomes a new insight.
type InsightResolver struct {
	embedder    Embedder
	store       InsightStore
	sink        InvalidationSink
	maxDistance float64

	serialize bool
	locks     *environmentLocks
}

type ResolverOption func(*InsightResolver)

// WithEnvironmentLock serializes find-then-create per environment so that
// concurrent near-duplicate candidates cannot both create an insight.
// The lock is process-local.
func WithEnvironmentLock(enabled bool) ResolverOption {
	return func(r *InsightResolver) {
		r.serialize = enabled
	}
}

// NewInsightResolver creates a resolver that merges candidates whose cosine
// distance to an existing insight is at most maxDistance.
// A nil sink discards invalidation events.
func NewInsightResolver(embedder Embedder, store InsightStore, sink InvalidationSink, maxDistance float64, opts ...ResolverOption) *InsightResolver {
	if sink == nil {
		sink = discardSink{}
	}

	r := &InsightResolver{
		embedder:    embedder,
		store:       store,
		sink:        sink,
		maxDistance: maxDistance,
		locks:       newEnvironmentLocks(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxDistance returns the merge threshold.
func (r *InsightResolver) MaxDistance() float64 {
	return r.maxDistance
}

// ResolveInsight embeds the candidate, looks for the closest insight of the
// environment and either links documentID to it or creates a new insight and
// links to that. Nothing is written when embedding fails.
func (r *InsightResolver) ResolveInsight(ctx context.Context, environmentID, documentID string, candidate models.Candidate) (*Resolution, error) {
	ctx, span := middleware.StartSpan(ctx, "InsightResolver.ResolveInsight",
		attribute.String("environment.id", environmentID),
		attribute.String("document.id", documentID),
		attribute.String("insight.category", string(candidate.Category)),
	)
	defer span.End()

	if environmentID == "" || documentID == "" {
		err := fmt.Errorf("%w: environment and document ids are required", models.ErrInvalidInput)
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	if err := candidate.Validate(); err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	vector, err := r.embedder.Embed(ctx, models.InsightVectorText(candidate.Title, candidate.Description))
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to embed candidate: %w", err)
	}
	middleware.AddSpanEvent(ctx, "embedded", attribute.Int("vector.dimensions", len(vector)))

	resolution, err := r.matchOrCreate(ctx, environmentID, documentID, candidate, vector)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	kind := models.InvalidationMerged
	if resolution.Created {
		kind = models.InvalidationCreated
	}
	span.SetAttributes(
		attribute.String("insight.id", resolution.InsightID),
		attribute.Bool("insight.created", resolution.Created),
	)

	// The writes are done at this point; a failed notification only leaves caches stale.
	event := models.NewInvalidationEvent(kind, environmentID, resolution.InsightID, documentID)
	if err := r.sink.Revalidate(ctx, event); err != nil {
		log.Printf("⚠️  Failed to publish invalidation for insight %s: %v", resolution.InsightID, err)
		middleware.AddSpanEvent(ctx, "invalidation_failed", attribute.String("error", err.Error()))
	}

	return resolution, nil
}

func (r *InsightResolver) matchOrCreate(ctx context.Context, environmentID, documentID string, candidate models.Candidate, vector []float32) (*Resolution, error) {
	if r.serialize {
		unlock := r.locks.lock(environmentID)
		defer unlock()
	}

	nearest, err := r.store.FindNearest(ctx, environmentID, vector, 1, r.maxDistance)
	if err != nil {
		return nil, fmt.Errorf("failed to search insights: %w", err)
	}

	if len(nearest) > 0 {
		match := nearest[0]
		middleware.AddSpanEvent(ctx, "matched",
			attribute.String("insight.id", match.ID),
			attribute.Float64("distance", match.Distance),
		)

		if err := r.store.LinkDocument(ctx, documentID, match.ID); err != nil {
			return nil, fmt.Errorf("failed to link document to insight %s: %w", match.ID, err)
		}
		return &Resolution{InsightID: match.ID, Distance: match.Distance}, nil
	}

	insight, err := r.store.Create(ctx, &models.Insight{
		EnvironmentID: environmentID,
		Title:         candidate.Title,
		Description:   candidate.Description,
		Category:      candidate.Category,
		Vector:        pgvector.NewVector(vector),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create insight: %w", err)
	}
	middleware.AddSpanEvent(ctx, "created", attribute.String("insight.id", insight.ID))

	if err := r.store.LinkDocument(ctx, documentID, insight.ID); err != nil {
		return nil, fmt.Errorf("failed to link document to insight %s: %w", insight.ID, err)
	}

	return &Resolution{InsightID: insight.ID, Created: true}, nil
}

type discardSink struct{}

func (discardSink) Revalidate(context.Context, models.InvalidationEvent) error { return nil }

// environmentLocks hands out one mutex per environment and forgets it once
// nobody holds or waits for it.
type environmentLocks struct {
	mu    sync.Mutex
	locks map[string]*environmentLock
}

type environmentLock struct {
	sync.Mutex
	refs int
}

func newEnvironmentLocks() *environmentLocks {
	return &environmentLocks{locks: make(map[string]*environmentLock)}
}

func (l *environmentLocks) lock(environmentID string) func() {
	l.mu.Lock()
	el, ok := l.locks[environmentID]
	if !ok {
		el = &environmentLock{}
		l.locks[environmentID] = el
	}
	el.refs++
	l.mu.Unlock()

	el.Lock()

	return func() {
		el.Unlock()

		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, environmentID)
		}
		l.mu.Unlock()
	}
}
