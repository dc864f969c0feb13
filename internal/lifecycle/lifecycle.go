// Package lifecycle is the pure transition function for emergency requests.
//
// The request lifecycle is a fixed total order:
//
//	dispatched → en_route → arrived → completed
//
// No backward moves, no skipping. Cancellation is the only shortcut: it jumps
// a dispatched or en_route request straight to completed (the caller is
// responsible for setting the cancellation flag on the request itself).
//
// Next has no side effects and is safe to call concurrently; callers mutating
// the same request must serialize through the store's per-request lock.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/shiva/ambutrack/internal/model"
)

// Event names a requested lifecycle transition.
type Event string

const (
	// EventAdvance moves a dispatched request en route (crew action).
	EventAdvance Event = "advance"
	// EventArrived marks arrival, raised by the ETA scheduler at countdown
	// exhaustion or by explicit crew action.
	EventArrived Event = "arrived"
	// EventComplete is the final acknowledgment by crew or patient.
	EventComplete Event = "complete"
	// EventCancel aborts tracking while still dispatched or en route.
	EventCancel Event = "cancel"
)

// ErrInvalidTransition is returned when the (status, event) pair is not in
// the transition table. The request must be left unchanged.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// table holds every legal (from, event) → to pair.
var table = map[model.RequestStatus]map[Event]model.RequestStatus{
	model.StatusDispatched: {
		EventAdvance: model.StatusEnRoute,
		EventCancel:  model.StatusCompleted,
	},
	model.StatusEnRoute: {
		EventArrived: model.StatusArrived,
		EventCancel:  model.StatusCompleted,
	},
	model.StatusArrived: {
		EventComplete: model.StatusCompleted,
	},
}

// Next returns the status that applying event to from yields.
// Any pair outside the table is rejected with ErrInvalidTransition wrapped
// with the offending pair for the caller's error message.
func Next(from model.RequestStatus, event Event) (model.RequestStatus, error) {
	if to, ok := table[from][event]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %q does not apply to status %q", ErrInvalidTransition, event, from)
}

// CanCancel reports whether a request in the given status may still be
// cancelled. Arrived requests must be completed, not cancelled.
func CanCancel(from model.RequestStatus) bool {
	_, ok := table[from][EventCancel]
	return ok
}
