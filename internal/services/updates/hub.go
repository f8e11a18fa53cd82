package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"feedback-insights/internal/middleware"
	"feedback-insights/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	MessageTypeSubscribed   = "subscribed"
	MessageTypeInvalidation = "invalidation"

	sendBufferSize = 64
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	idleTimeout    = 5 * time.Minute
)

// Message is the JSON frame pushed to subscribers.
type Message struct {
	Type          string                    `json:"type"`
	EnvironmentID string                    `json:"environment_id"`
	SubscriberID  string                    `json:"subscriber_id,omitempty"`
	Event         *models.InvalidationEvent `json:"event,omitempty"`
}

// Hub pushes invalidation events to websocket subscribers, grouped by
// environment. All room changes go through the Start loop.
type Hub struct {
	environments map[string]map[*Subscriber]bool // environmentID -> subscribers
	register     chan *Subscriber
	unregister   chan *Subscriber
	broadcast    chan *BroadcastMessage
	mu           sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
}

// Subscriber is one websocket client listening to an environment.
type Subscriber struct {
	ID            string
	EnvironmentID string
	Conn          *websocket.Conn
	Send          chan []byte
	Hub           *Hub
	ConnectedAt   time.Time

	lastActive atomic.Int64 // unix nanos
}

// BroadcastMessage is a frame for every subscriber of an environment.
type BroadcastMessage struct {
	EnvironmentID string
	Message       []byte
}

func NewHub() *Hub {
	return &Hub{
		environments: make(map[string]map[*Subscriber]bool),
		register:     make(chan *Subscriber),
		unregister:   make(chan *Subscriber),
		broadcast:    make(chan *BroadcastMessage, 256),
		done:         make(chan struct{}),
	}
}

// NewSubscriber creates a subscriber with a fresh id. conn may be nil in tests.
func (h *Hub) NewSubscriber(environmentID string, conn *websocket.Conn) *Subscriber {
	s := &Subscriber{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		Conn:          conn,
		Send:          make(chan []byte, sendBufferSize),
		Hub:           h,
		ConnectedAt:   time.Now(),
	}
	s.touch()
	return s
}

// Start runs the hub loop and the idle cleanup.
func (h *Hub) Start() {
	log.Println("🔄 Starting updates hub...")

	go func() {
		for {
			select {
			case <-h.done:
				return

			case s := <-h.register:
				h.handleRegister(s)

			case s := <-h.unregister:
				h.handleUnregister(s)

			case msg := <-h.broadcast:
				h.handleBroadcast(msg)
			}
		}
	}()

	go h.cleanupLoop()

	log.Println("✓ Updates hub started")
}

// Register adds a subscriber to its environment room.
func (h *Hub) Register(s *Subscriber) {
	select {
	case h.register <- s:
	case <-h.done:
	}
}

// Unregister removes a subscriber and closes its send channel.
func (h *Hub) Unregister(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.environments[s.EnvironmentID] == nil {
		h.environments[s.EnvironmentID] = make(map[*Subscriber]bool)
	}
	h.environments[s.EnvironmentID][s] = true

	log.Printf("  Subscriber %s joined environment %s (total: %d)",
		s.ID, s.EnvironmentID, len(h.environments[s.EnvironmentID]))
}

func (h *Hub) handleUnregister(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscriber) {
	subscribers, ok := h.environments[s.EnvironmentID]
	if !ok || !subscribers[s] {
		return
	}

	delete(subscribers, s)
	close(s.Send)
	if len(subscribers) == 0 {
		delete(h.environments, s.EnvironmentID)
	}

	log.Printf("  Subscriber %s left environment %s (remaining: %d)",
		s.ID, s.EnvironmentID, len(subscribers))
}

func (h *Hub) handleBroadcast(msg *BroadcastMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.environments[msg.EnvironmentID] {
		select {
		case s.Send <- msg.Message:
		default:
			log.Printf("⚠️  Subscriber %s buffer full, dropping connection", s.ID)
			h.removeLocked(s)
		}
	}
}

// Revalidate pushes an invalidation event to the subscribers of its environment.
func (h *Hub) Revalidate(ctx context.Context, event models.InvalidationEvent) error {
	_, span := middleware.StartSpan(ctx, "UpdatesHub.Revalidate",
		attribute.String("environment.id", event.EnvironmentID),
		attribute.String("insight.id", event.InsightID),
	)
	defer span.End()

	payload, err := json.Marshal(Message{
		Type:          MessageTypeInvalidation,
		EnvironmentID: event.EnvironmentID,
		Event:         &event,
	})
	if err != nil {
		return fmt.Errorf("failed to encode invalidation: %w", err)
	}

	select {
	case h.broadcast <- &BroadcastMessage{EnvironmentID: event.EnvironmentID, Message: payload}:
		return nil
	case <-h.done:
		return nil
	default:
		return fmt.Errorf("updates hub is saturated, dropped event %s", event.ID)
	}
}

// SubscriberCount returns how many subscribers an environment has.
func (h *Hub) SubscriberCount(environmentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.environments[environmentID])
}

func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.cleanup(time.Now())
		}
	}
}

// cleanup drops subscribers that have not answered a ping for idleTimeout.
func (h *Hub) cleanup(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subscribers := range h.environments {
		for s := range subscribers {
			if now.Sub(s.lastActiveAt()) > idleTimeout {
				log.Printf("  Cleaning up inactive subscriber %s", s.ID)
				h.removeLocked(s)
			}
		}
	}
}

// Shutdown closes every subscriber connection.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		log.Println("🛑 Shutting down updates hub...")

		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()

		for _, subscribers := range h.environments {
			for s := range subscribers {
				close(s.Send)
				if s.Conn != nil {
					s.Conn.Close()
				}
			}
		}
		h.environments = make(map[string]map[*Subscriber]bool)

		log.Println("✓ Updates hub shutdown complete")
	})
}

func (s *Subscriber) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Subscriber) lastActiveAt() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// ReadPump keeps the read side of the connection alive so pongs and close
// frames are processed. Client messages are ignored.
func (s *Subscriber) ReadPump() {
	defer func() {
		s.Hub.Unregister(s)
		s.Conn.Close()
	}()

	s.Conn.SetReadLimit(512)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		s.touch()
	}
}

// WritePump writes queued frames and pings the client.
func (s *Subscriber) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
