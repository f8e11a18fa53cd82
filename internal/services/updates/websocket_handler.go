package updates

import (
	"encoding/json"
	"log"
	"net/http"

	"feedback-insights/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades /ws/updates requests and subscribes them to an environment.
type WebSocketHandler struct {
	hub *Hub
}

func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleUpdatesConnection subscribes the caller to the invalidation events
// of the environment named by the environment_id query parameter.
func (h *WebSocketHandler) HandleUpdatesConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	environmentID := r.URL.Query().Get("environment_id")
	if environmentID == "" {
		http.Error(w, "environment_id is required", http.StatusBadRequest)
		return
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("environment.id", environmentID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	subscriber := h.hub.NewSubscriber(environmentID, conn)

	hello, _ := json.Marshal(Message{
		Type:          MessageTypeSubscribed,
		EnvironmentID: environmentID,
		SubscriberID:  subscriber.ID,
	})
	subscriber.Send <- hello

	h.hub.Register(subscriber)

	go subscriber.WritePump()
	go subscriber.ReadPump()

	log.Printf("✓ WebSocket subscriber %s connected to environment %s", subscriber.ID, environmentID)
}
