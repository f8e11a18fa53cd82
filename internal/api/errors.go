package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"feedback-insights/internal/middleware"
	"feedback-insights/internal/models"
	"feedback-insights/internal/services"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrAIDisabled):
		return http.StatusForbidden
	case errors.Is(err, services.ErrProcessorStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	requestID := middleware.GetRequestID(r.Context())

	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[%s] %s %s: %v", requestID, r.Method, r.URL.Path, err)
		message = http.StatusText(status)
	}

	writeJSON(w, status, errorResponse{Error: message, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
