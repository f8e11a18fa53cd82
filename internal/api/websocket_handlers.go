package api

import (
	"net/http"
)

// HandleUpdatesWebSocket subscribes a client to the invalidation events of one environment.
func (h *Handler) HandleUpdatesWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHandler == nil {
		http.Error(w, "updates are not enabled", http.StatusServiceUnavailable)
		return
	}
	h.wsHandler.HandleUpdatesConnection(w, r)
}
