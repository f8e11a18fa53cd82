package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"feedback-insights/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Notifier publishes invalidation events with pg_notify so that every
// server process connected to the database can drop its stale caches.
type Notifier struct {
	db      *gorm.DB
	channel string
}

func NewNotifier(db *gorm.DB, channel string) *Notifier {
	return &Notifier{db: db, channel: channel}
}

func (n *Notifier) Revalidate(ctx context.Context, event models.InvalidationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode invalidation event: %w", err)
	}

	if err := n.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", n.channel, string(payload)).Error; err != nil {
		return fmt.Errorf("failed to notify %s: %w", n.channel, err)
	}
	return nil
}

// Listener receives events published by any Notifier on the same channel,
// this process included, and hands them to a local sink.
type Listener struct {
	listener *pq.Listener
	channel  string
	sink     Sink
}

// NewListener connects a dedicated LISTEN session. pq reconnects on its own
// and the listener keeps its channel subscription across reconnects.
func NewListener(dsn, channel string, sink Sink) (*Listener, error) {
	l := pq.NewListener(dsn, 5*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("⚠️  Invalidation listener connection failed: %v", err)
		case pq.ListenerEventDisconnected:
			log.Printf("⚠️  Invalidation listener disconnected: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("✓ Invalidation listener reconnected")
		}
	})

	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	return &Listener{listener: l, channel: channel, sink: sink}, nil
}

// Run delivers notifications until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	log.Printf("✓ Listening for invalidations on %s", l.channel)

	for {
		select {
		case <-ctx.Done():
			return

		case n := <-l.listener.Notify:
			// nil after a reconnect; notifications sent meanwhile are lost
			if n == nil {
				continue
			}
			l.dispatch(ctx, n.Extra)

		case <-time.After(90 * time.Second):
			go func() {
				if err := l.listener.Ping(); err != nil {
					log.Printf("⚠️  Invalidation listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, payload string) {
	var event models.InvalidationEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		log.Printf("⚠️  Dropping malformed invalidation payload: %v", err)
		return
	}

	if err := l.sink.Revalidate(ctx, event); err != nil {
		log.Printf("⚠️  Failed to apply invalidation for insight %s: %v", event.InsightID, err)
	}
}

func (l *Listener) Close() error {
	return l.listener.Close()
}
