// Package handler contains HTTP request handlers for the dispatch API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/ambutrack/internal/feed"
	"github.com/shiva/ambutrack/internal/model"
	"github.com/shiva/ambutrack/internal/service"
)

// ─── Request/Response DTOs ──────────────────────────────────

// CreateRequestBody is the JSON body for POST /api/v1/requests.
type CreateRequestBody struct {
	RequesterID string `json:"requester_id"`
	Location    string `json:"location"`
	Contact     string `json:"contact"`
	Details     string `json:"details"`
}

// AdvanceBody is the JSON body for POST /api/v1/requests/{id}/advance.
type AdvanceBody struct {
	EtaMinutes int `json:"eta_minutes"`
	// Version, when non-zero, makes the transition conditional on the
	// caller's last-seen version.
	Version int64 `json:"version,omitempty"`
}

// TransitionBody is the optional JSON body for arrive/complete/cancel.
type TransitionBody struct {
	Version int64 `json:"version,omitempty"`
}

// ─── RequestHandler ─────────────────────────────────────────

// RequestHandler exposes the dispatch gateway and the observation feed.
type RequestHandler struct {
	dispatch *service.DispatchService
	feed     *feed.Feed
}

// NewRequestHandler creates a new handler wired to the gateway and feed.
func NewRequestHandler(dispatch *service.DispatchService, fd *feed.Feed) *RequestHandler {
	return &RequestHandler{dispatch: dispatch, feed: fd}
}

// Create handles POST /api/v1/requests
//
// Creates a new dispatched ambulance request.
//
//	Request body:
//	{
//	  "requester_id": "p1",
//	  "location": "Area 3, Block C",
//	  "contact": "099-111-2233",
//	  "details": "chest pain"
//	}
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	req, err := h.dispatch.RequestAmbulance(r.Context(), service.CreateInput{
		RequesterID: body.RequesterID,
		Location:    body.Location,
		Contact:     body.Contact,
		Details:     body.Details,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// Get handles GET /api/v1/requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.dispatch.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// List handles GET /api/v1/requests?requester_id=&include_completed=
//
// Without parameters it returns every active request (crew/admin view);
// requester_id narrows to one account (patient view). The result is a
// snapshot — dashboards re-poll or use the stream endpoint.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := model.Filter{
		RequesterID:      r.URL.Query().Get("requester_id"),
		IncludeCompleted: r.URL.Query().Get("include_completed") == "true",
	}
	writeJSON(w, http.StatusOK, h.feed.Poll(filter))
}

// Advance handles POST /api/v1/requests/{id}/advance
//
// Moves a dispatched request en route and starts its ETA countdown.
func (h *RequestHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var body AdvanceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	req, err := h.dispatch.AdvanceToEnRoute(r.Context(), mux.Vars(r)["id"], body.EtaMinutes, body.Version)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Arrive handles POST /api/v1/requests/{id}/arrive
func (h *RequestHandler) Arrive(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.dispatch.MarkArrived)
}

// Complete handles POST /api/v1/requests/{id}/complete
func (h *RequestHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.dispatch.Complete)
}

// Cancel handles POST /api/v1/requests/{id}/cancel
//
// Only legal while dispatched or en_route. By the time the response is
// written the request's countdown has fully stopped.
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.dispatch.Cancel)
}

// ─── Private helpers ────────────────────────────────────────

func (h *RequestHandler) applyTransition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id string, version int64) (model.EmergencyRequest, error),
) {
	var body TransitionBody
	// The body is optional; an empty body means an unconditional transition.
	_ = json.NewDecoder(r.Body).Decode(&body)

	req, err := op(r.Context(), mux.Vars(r)["id"], body.Version)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// writeError maps gateway errors to HTTP statuses.
func (h *RequestHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_input",
			"message": err.Error(),
		})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "Request not found.",
		})
	case errors.Is(err, service.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "invalid_transition",
			"message": err.Error(),
		})
	case errors.Is(err, service.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "conflict",
			"message": "The request changed since you last read it. Re-read and retry.",
		})
	default:
		log.Printf("[handler] %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
	}
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
