package handler

import (
	"net/http"

	"github.com/shiva/ambutrack/internal/model"
	"github.com/shiva/ambutrack/internal/ws"
)

// StreamHandler upgrades dashboard connections to WebSocket and feeds
// them live request events.
type StreamHandler struct {
	hub *ws.Hub
}

func NewStreamHandler(hub *ws.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Stream handles GET /api/v1/stream?requester_id=&request_id=
//
// With no parameters the client sees every event (admin dashboard).
// requester_id narrows to one account's requests, request_id to a
// single request's countdown.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	filter := model.Filter{
		RequesterID:      r.URL.Query().Get("requester_id"),
		RequestID:        r.URL.Query().Get("request_id"),
		IncludeCompleted: true,
	}
	ws.Serve(h.hub, w, r, filter)
}
