package handler

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/ambutrack/internal/repository"
)

// HistoryHandler serves the durable transition log for a request.
// Registered only when Postgres is configured.
type HistoryHandler struct {
	history *repository.HistoryRepository
}

func NewHistoryHandler(history *repository.HistoryRepository) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// List handles GET /api/v1/requests/{id}/history
//
// Returns the recorded transitions for a request in version order. The
// log survives restarts, so completed requests are visible here even
// after they leave the live table.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	transitions, err := h.history.ListTransitions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		log.Printf("[handler] list transitions: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if len(transitions) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "No history for that request.",
		})
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}
