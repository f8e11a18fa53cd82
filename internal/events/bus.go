package events

import (
	"context"
	"errors"
	"sync"

	"feedback-insights/internal/models"
)

// Sink consumes invalidation events.
type Sink interface {
	Revalidate(ctx context.Context, event models.InvalidationEvent) error
}

// Bus fans an event out to every subscribed sink in the process.
// A failing sink does not stop delivery to the others.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

// Subscribe adds a sink. Events published afterwards reach it.
func (b *Bus) Subscribe(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

func (b *Bus) Revalidate(ctx context.Context, event models.InvalidationEvent) error {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.Revalidate(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
