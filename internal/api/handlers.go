package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"feedback-insights/internal/models"
	"feedback-insights/internal/services"
	"feedback-insights/internal/services/updates"

	"github.com/gorilla/mux"
)

const defaultReprocessLimit = 100

type Handler struct {
	docs      DocumentStore
	processor DocumentProcessor
	resolver  InsightResolver
	queries   InsightQueries
	links     InsightLinks
	events    services.InvalidationSink
	wsHandler *updates.WebSocketHandler
	aiAllowed func(environmentID string) bool
}

func NewHandler(
	docs DocumentStore,
	processor DocumentProcessor,
	resolver InsightResolver,
	queries InsightQueries,
	links InsightLinks,
	events services.InvalidationSink,
	wsHandler *updates.WebSocketHandler,
	aiAllowed func(environmentID string) bool,
) *Handler {
	if aiAllowed == nil {
		aiAllowed = func(string) bool { return true }
	}
	if events == nil {
		events = discardEvents{}
	}
	return &Handler{
		docs:      docs,
		processor: processor,
		resolver:  resolver,
		queries:   queries,
		links:     links,
		events:    events,
		wsHandler: wsHandler,
		aiAllowed: aiAllowed,
	}
}

type discardEvents struct{}

func (discardEvents) Revalidate(context.Context, models.InvalidationEvent) error { return nil }

func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return services.NormalizePage(limit, offset)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", models.ErrInvalidInput, err)
	}
	return nil
}

// Document handlers

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	environmentID := mux.Vars(r)["environmentId"]

	var req models.DocumentCreate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.docs.Create(r.Context(), environmentID, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.events.Revalidate(r.Context(), models.NewDocumentEvent(environmentID, created.ID)); err != nil {
		log.Printf("⚠️  Failed to publish document event for %s: %v", created.ID, err)
	}

	queued := false
	if h.aiAllowed(environmentID) {
		job := services.ProcessingJob{DocumentID: created.ID, EnvironmentID: environmentID}
		if err := h.processor.Enqueue(r.Context(), job); err != nil {
			// Enqueue marked the document failed, so reprocessing picks it up.
			log.Printf("⚠️  Failed to queue document %s: %v", created.ID, err)
		} else {
			queued = true
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"document":     created,
		"queued":       queued,
		"queue_length": h.processor.GetQueueLength(),
	})
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	environmentID := mux.Vars(r)["environmentId"]
	limit, offset := pagination(r)

	documents, err := h.docs.ListByEnvironment(r.Context(), environmentID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": documents,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) ReprocessDocuments(w http.ResponseWriter, r *http.Request) {
	environmentID := mux.Vars(r)["environmentId"]

	limit := defaultReprocessLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	queued, err := h.processor.Reprocess(r.Context(), environmentID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued":       queued,
		"queue_length": h.processor.GetQueueLength(),
	})
}

// Insight handlers

type resolveRequest struct {
	DocumentID  string                 `json:"document_id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    models.InsightCategory `json:"category"`
}

// ResolveInsight runs deduplication for one candidate of a document that was
// extracted elsewhere.
func (h *Handler) ResolveInsight(w http.ResponseWriter, r *http.Request) {
	environmentID := mux.Vars(r)["environmentId"]

	if !h.aiAllowed(environmentID) {
		writeError(w, r, fmt.Errorf("environment %s: %w", environmentID, services.ErrAIDisabled))
		return
	}

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := h.docs.GetByID(r.Context(), req.DocumentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if doc.EnvironmentID != environmentID {
		writeError(w, r, fmt.Errorf("document %s: %w", req.DocumentID, models.ErrNotFound))
		return
	}

	resolution, err := h.resolver.ResolveInsight(r.Context(), environmentID, doc.ID, models.Candidate{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if resolution.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resolution)
}

func (h *Handler) ListInsights(w http.ResponseWriter, r *http.Request) {
	environmentID := mux.Vars(r)["environmentId"]
	limit, offset := pagination(r)

	insights, err := h.queries.ListInsights(r.Context(), environmentID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"insights": insights,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *Handler) GetInsight(w http.ResponseWriter, r *http.Request) {
	insight, err := h.queries.GetInsight(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, insight)
}

func (h *Handler) ListInsightDocuments(w http.ResponseWriter, r *http.Request) {
	insightID := mux.Vars(r)["id"]
	limit, offset := pagination(r)

	documents, err := h.queries.ListInsightDocuments(r.Context(), insightID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"insight_id": insightID,
		"documents":  documents,
		"limit":      limit,
		"offset":     offset,
	})
}

// UnlinkDocument detaches a document from an insight it was wrongly merged into.
func (h *Handler) UnlinkDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.links.UnlinkDocument(r.Context(), vars["id"], vars["documentId"]); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	environmentID := mux.Vars(r)["environmentId"]

	var from *time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: from must be RFC3339", models.ErrInvalidInput))
			return
		}
		from = &parsed
	}

	stats, err := h.queries.GetStats(r.Context(), environmentID, from)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"queue_length": h.processor.GetQueueLength(),
	})
}
