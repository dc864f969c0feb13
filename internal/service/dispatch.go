// Package service implements the dispatch gateway: the only writer of the
// request store and the single entry point for patients and crew.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shiva/ambutrack/internal/feed"
	"github.com/shiva/ambutrack/internal/lifecycle"
	"github.com/shiva/ambutrack/internal/metrics"
	"github.com/shiva/ambutrack/internal/model"
	"github.com/shiva/ambutrack/internal/repository"
	"github.com/shiva/ambutrack/internal/scheduler"
	"github.com/shiva/ambutrack/internal/store"
)

// ─── Dispatch Errors ────────────────────────────────────────

var (
	// ErrInvalidInput is returned for missing required creation fields.
	// Not retried; the caller corrects the input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for an unknown request id.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidTransition is returned when a requested transition violates
	// the lifecycle order. The request is left unchanged.
	ErrInvalidTransition = lifecycle.ErrInvalidTransition

	// ErrConflict is returned when a version-guarded mutation raced and
	// lost. The caller may re-read and retry.
	ErrConflict = store.ErrConflict
)

// ─── Priority policy ────────────────────────────────────────

// PriorityPolicy assigns the priority of a new request. Priority assignment
// is external to this core; the default policy returns a fixed value.
type PriorityPolicy func(in CreateInput) model.Priority

// FixedPriority is the default policy: every request gets the same priority.
func FixedPriority(p model.Priority) PriorityPolicy {
	return func(CreateInput) model.Priority { return p }
}

// ─── DispatchService ────────────────────────────────────────

// CreateInput carries the caller-provided creation fields. The requester
// identity comes from the authentication collaborator and is trusted as-is.
type CreateInput struct {
	RequesterID string `json:"requester_id"`
	Location    string `json:"location"`
	Contact     string `json:"contact"`
	Details     string `json:"details"`
}

// Config tunes gateway policy.
type Config struct {
	// Priority assigns the priority of new requests; nil means medium.
	Priority PriorityPolicy
	// AutoAdvance, when enabled, advances a new request to en_route after
	// AutoAdvanceDelay with AutoAdvanceEtaMinutes, using the same public
	// operation a crew dashboard would call. Off by default.
	AutoAdvance           bool
	AutoAdvanceDelay      time.Duration
	AutoAdvanceEtaMinutes int
}

// DispatchService is the dispatch gateway.
//
// Concurrency model:
//   - Each operation is atomic with respect to the request store: the
//     lifecycle check and the mutation happen inside the same per-request
//     exclusive section, so an illegal transition can never half-apply.
//   - Cancel commits the cancel transition first (a late countdown tick then
//     loses at the lifecycle check) and stops the countdown synchronously
//     before returning.
//   - History writes are best-effort and never fail an operation.
type DispatchService struct {
	store   *store.Store
	sched   *scheduler.Scheduler
	feed    *feed.Feed
	history *repository.HistoryRepository // nil disables the audit trail
	cfg     Config
}

// NewDispatchService wires the gateway. history may be nil.
func NewDispatchService(
	st *store.Store,
	sched *scheduler.Scheduler,
	fd *feed.Feed,
	history *repository.HistoryRepository,
	cfg Config,
) *DispatchService {
	if cfg.Priority == nil {
		cfg.Priority = FixedPriority(model.PriorityMedium)
	}
	return &DispatchService{store: st, sched: sched, feed: fd, history: history, cfg: cfg}
}

// RequestAmbulance creates a new request in the dispatched state.
func (s *DispatchService) RequestAmbulance(ctx context.Context, in CreateInput) (model.EmergencyRequest, error) {
	if strings.TrimSpace(in.RequesterID) == "" {
		return model.EmergencyRequest{}, invalidInput("requester_id is required")
	}
	if strings.TrimSpace(in.Location) == "" {
		return model.EmergencyRequest{}, invalidInput("location is required")
	}
	if strings.TrimSpace(in.Contact) == "" {
		return model.EmergencyRequest{}, invalidInput("contact is required")
	}

	priority := s.cfg.Priority(in)
	if !priority.Valid() {
		priority = model.PriorityMedium
	}

	req := s.store.Create(model.EmergencyRequest{
		RequesterID: in.RequesterID,
		Location:    in.Location,
		Contact:     in.Contact,
		Details:     in.Details,
		Priority:    priority,
		Status:      model.StatusDispatched,
	})

	metrics.RequestsCreated.WithLabelValues(string(priority)).Inc()
	log.Printf("[dispatch] created request %s for %s (priority %s)", req.ID, req.RequesterID, priority)

	s.feed.Publish(feed.Event{Type: feed.TypeCreated, Request: req})
	s.record(ctx, req, "created", model.StatusDispatched)

	if s.cfg.AutoAdvance {
		s.scheduleAutoAdvance(req.ID)
	}
	return req, nil
}

// AdvanceToEnRoute moves a dispatched request en route, records the planned
// ETA and starts its countdown. expectedVersion > 0 makes the call
// conditional (ErrConflict on staleness); 0 is unconditional.
//
// Calling it twice yields exactly one committed transition and one running
// countdown: the lifecycle table rejects the repeat and Start is idempotent.
func (s *DispatchService) AdvanceToEnRoute(ctx context.Context, id string, initialEtaMinutes int, expectedVersion int64) (model.EmergencyRequest, error) {
	if initialEtaMinutes < 0 {
		return model.EmergencyRequest{}, invalidInput("eta_minutes must be non-negative")
	}

	req, from, err := s.transition(id, lifecycle.EventAdvance, expectedVersion, func(r *model.EmergencyRequest) {
		r.EtaMinutes = initialEtaMinutes
		r.InitialEtaMinutes = initialEtaMinutes
	})
	if err != nil {
		return model.EmergencyRequest{}, err
	}

	s.sched.Start(id)
	log.Printf("[dispatch] request %s en route, eta %d min", id, initialEtaMinutes)

	s.feed.Publish(feed.Event{Type: feed.TypeEnRoute, Request: req})
	s.record(ctx, req, string(lifecycle.EventAdvance), from)
	return req, nil
}

// MarkArrived applies the arrived transition by explicit crew action,
// without waiting for the countdown to exhaust.
func (s *DispatchService) MarkArrived(ctx context.Context, id string, expectedVersion int64) (model.EmergencyRequest, error) {
	req, from, err := s.transition(id, lifecycle.EventArrived, expectedVersion, func(r *model.EmergencyRequest) {
		r.EtaMinutes = 0
	})
	if err != nil {
		return model.EmergencyRequest{}, err
	}

	// The countdown would notice on its next tick anyway; stopping here
	// releases its resources deterministically.
	s.sched.Stop(id)
	log.Printf("[dispatch] request %s arrived (crew action)", id)

	s.feed.Publish(feed.Event{Type: feed.TypeArrived, Request: req})
	s.record(ctx, req, string(lifecycle.EventArrived), from)
	return req, nil
}

// Complete is the final acknowledgment by crew or patient. The request
// leaves active tracking and is archived.
func (s *DispatchService) Complete(ctx context.Context, id string, expectedVersion int64) (model.EmergencyRequest, error) {
	req, from, err := s.transition(id, lifecycle.EventComplete, expectedVersion, nil)
	if err != nil {
		return model.EmergencyRequest{}, err
	}

	log.Printf("[dispatch] request %s completed", id)

	s.feed.Publish(feed.Event{Type: feed.TypeCompleted, Request: req})
	s.record(ctx, req, string(lifecycle.EventComplete), from)
	s.archive(ctx, req)
	return req, nil
}

// Cancel aborts a dispatched or en_route request: an immediate completion
// with the cancellation flag set. The ETA freezes at its last value. By the
// time Cancel returns, the request's countdown has fully stopped and no
// further ETA decrement can be observed.
func (s *DispatchService) Cancel(ctx context.Context, id string, expectedVersion int64) (model.EmergencyRequest, error) {
	now := time.Now().UTC()
	req, from, err := s.transition(id, lifecycle.EventCancel, expectedVersion, func(r *model.EmergencyRequest) {
		r.Cancelled = true
		r.CancelledAt = &now
	})
	if err != nil {
		return model.EmergencyRequest{}, err
	}

	// Commit first, stop second: a tick racing the commit is rejected by the
	// lifecycle check, and Stop waits out any tick already in flight.
	s.sched.Stop(id)
	log.Printf("[dispatch] request %s cancelled while %s", id, from)

	s.feed.Publish(feed.Event{Type: feed.TypeCancelled, Request: req})
	s.record(ctx, req, string(lifecycle.EventCancel), from)
	s.archive(ctx, req)
	return req, nil
}

// Get returns a consistent snapshot of one request.
func (s *DispatchService) Get(id string) (model.EmergencyRequest, error) {
	return s.store.Get(id)
}

// ─── Private helpers ────────────────────────────────────────

// transition applies one lifecycle event atomically: the table lookup and
// the extra mutation run inside the request's exclusive section, and nothing
// commits on rejection.
func (s *DispatchService) transition(
	id string,
	event lifecycle.Event,
	expectedVersion int64,
	mutate func(*model.EmergencyRequest),
) (model.EmergencyRequest, model.RequestStatus, error) {
	var from model.RequestStatus
	mutator := func(r *model.EmergencyRequest) error {
		from = r.Status
		next, err := lifecycle.Next(r.Status, event)
		if err != nil {
			return err
		}
		r.Status = next
		if mutate != nil {
			mutate(r)
		}
		return nil
	}

	var (
		req model.EmergencyRequest
		err error
	)
	if expectedVersion > 0 {
		req, err = s.store.UpdateIf(id, expectedVersion, mutator)
	} else {
		req, err = s.store.Update(id, mutator)
	}

	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	metrics.Transitions.WithLabelValues(string(event), outcome).Inc()

	if err != nil {
		return model.EmergencyRequest{}, from, err
	}
	return req, from, nil
}

// scheduleAutoAdvance runs the hands-off policy: one delayed advance
// through the public operation. If the request was cancelled in the
// meantime the advance is rejected like any other stale event.
func (s *DispatchService) scheduleAutoAdvance(id string) {
	time.AfterFunc(s.cfg.AutoAdvanceDelay, func() {
		_, err := s.AdvanceToEnRoute(context.Background(), id, s.cfg.AutoAdvanceEtaMinutes, 0)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			log.Printf("[dispatch] auto-advance %s: %v", id, err)
		}
	})
}

func (s *DispatchService) record(ctx context.Context, req model.EmergencyRequest, event string, from model.RequestStatus) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordTransition(ctx, req, event, from); err != nil {
		log.Printf("[dispatch] history: %v", err)
	}
}

func (s *DispatchService) archive(ctx context.Context, req model.EmergencyRequest) {
	if s.history == nil {
		return
	}
	if err := s.history.ArchiveRequest(ctx, req); err != nil {
		log.Printf("[dispatch] archive: %v", err)
	}
}

func invalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}
