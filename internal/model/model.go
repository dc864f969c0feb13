// Package model contains domain models for the ambulance dispatch core.
// The in-memory request store is the single source of truth for live state;
// the PostgreSQL schema only holds the append-only transition history and
// the terminal-request archive.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

// Priority is assigned at creation by an external policy and never changes.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of an emergency request.
// Transitions only move forward: dispatched → en_route → arrived → completed.
type RequestStatus string

const (
	StatusDispatched RequestStatus = "dispatched"
	StatusEnRoute    RequestStatus = "en_route"
	StatusArrived    RequestStatus = "arrived"
	StatusCompleted  RequestStatus = "completed"
)

// rank maps each status to its position in the lifecycle order.
func (s RequestStatus) rank() int {
	switch s {
	case StatusDispatched:
		return 0
	case StatusEnRoute:
		return 1
	case StatusArrived:
		return 2
	case StatusCompleted:
		return 3
	}
	return -1
}

// Before reports whether s comes strictly earlier than other in the
// lifecycle order.
func (s RequestStatus) Before(other RequestStatus) bool {
	return s.rank() < other.rank()
}

// ─── Domain Models ──────────────────────────────────────────

// EmergencyRequest is the central entity: one ambulance transport request.
//
// Mutability contract:
//   - ID, RequesterID, Location, Contact, Details, Priority, CreatedAt are
//     immutable after creation.
//   - Status moves forward-only through the lifecycle.
//   - EtaMinutes is meaningful only while Status == en_route; it is frozen
//     once the request arrives or is cancelled.
//   - Version is bumped on every committed mutation so observers and
//     optimistic writers can detect staleness.
type EmergencyRequest struct {
	ID          string   `json:"id"`
	RequesterID string   `json:"requester_id"`
	Location    string   `json:"location"`
	Contact     string   `json:"contact"`
	Details     string   `json:"details,omitempty"`
	Priority    Priority `json:"priority"`

	Status            RequestStatus `json:"status"`
	EtaMinutes        int           `json:"eta_minutes"`
	InitialEtaMinutes int           `json:"initial_eta_minutes"`

	// Cancellation is modeled as an immediate completion with a flag, so a
	// cancelled request leaves active tracking but stays in history.
	Cancelled   bool       `json:"cancelled,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the request is still being tracked.
func (r *EmergencyRequest) Active() bool {
	return r.Status != StatusCompleted
}

// ─── Feed / listing filters ─────────────────────────────────

// Filter selects a subset of requests for listing and subscriptions.
// The zero value matches every active request (crew/admin view).
type Filter struct {
	// RequesterID, when set, restricts to requests created by that account
	// (patient view).
	RequesterID string
	// RequestID, when set, restricts to a single request (tracker widget).
	RequestID string
	// IncludeCompleted also returns terminal requests (admin history view).
	IncludeCompleted bool
}

// Matches reports whether the request passes the filter.
func (f Filter) Matches(r *EmergencyRequest) bool {
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if f.RequestID != "" && r.ID != f.RequestID {
		return false
	}
	if !f.IncludeCompleted && !r.Active() {
		return false
	}
	return true
}
