package api

import (
	"feedback-insights/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	env := api.PathPrefix("/environments/{environmentId}").Subrouter()
	env.HandleFunc("/documents", h.CreateDocument).Methods("POST")
	env.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	env.HandleFunc("/documents/reprocess", h.ReprocessDocuments).Methods("POST")
	env.HandleFunc("/insights", h.ListInsights).Methods("GET")
	env.HandleFunc("/insights/resolve", h.ResolveInsight).Methods("POST")
	env.HandleFunc("/stats", h.GetStats).Methods("GET")

	api.HandleFunc("/insights/{id}", h.GetInsight).Methods("GET")
	api.HandleFunc("/insights/{id}/documents", h.ListInsightDocuments).Methods("GET")
	api.HandleFunc("/insights/{id}/documents/{documentId}", h.UnlinkDocument).Methods("DELETE")

	api.HandleFunc("/health", h.Health).Methods("GET")

	r.HandleFunc("/ws/updates", h.HandleUpdatesWebSocket)

	return r
}
