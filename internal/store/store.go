// Package store owns all mutable state of the dispatch core: an in-memory
// table of emergency requests keyed by id.
//
// Concurrency model:
//   - One mutex per request id (the per-request exclusive section). Mutations
//     to the same request serialize; different ids proceed fully in parallel.
//   - A read-write mutex guards only the id → entry map itself.
//   - Every read returns a deep copy, never a live handle, so a slow observer
//     can never see a half-applied mutation and never blocks a writer beyond
//     the brief critical section.
//
// External collaborators never touch this package directly; all writes go
// through the dispatch service.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiva/ambutrack/internal/model"
)

var (
	// ErrNotFound is returned for an unknown request id.
	ErrNotFound = errors.New("request not found")

	// ErrConflict is returned by UpdateIf when the caller's version is
	// stale. The caller may re-read and retry.
	ErrConflict = errors.New("request version conflict")
)

// entry pairs a request with its exclusive section.
type entry struct {
	mu  sync.Mutex
	req model.EmergencyRequest
}

// Store is the in-memory request table. The zero value is not usable;
// call New.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: map[string]*entry{}}
}

// Create inserts a new request, assigning id, version and timestamps.
// The caller provides the immutable creation fields and initial status.
// Ids are uuids and therefore never reused.
func (s *Store) Create(req model.EmergencyRequest) model.EmergencyRequest {
	now := time.Now().UTC()
	req.ID = uuid.New().String()
	req.Version = 1
	req.CreatedAt = now
	req.UpdatedAt = now

	s.mu.Lock()
	s.entries[req.ID] = &entry{req: req}
	s.mu.Unlock()

	return snapshot(&req)
}

// Get returns a consistent snapshot of a single request.
func (s *Store) Get(id string) (model.EmergencyRequest, error) {
	e, err := s.entry(id)
	if err != nil {
		return model.EmergencyRequest{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(&e.req), nil
}

// Update applies mutator to the request inside its exclusive section.
//
// The mutator receives a private copy; if it returns an error nothing is
// committed and the error is passed through unchanged (this is how lifecycle
// rejections surface without mutating state). On success the copy is
// committed with a bumped version and fresh UpdatedAt, and the committed
// snapshot is returned.
func (s *Store) Update(id string, mutator func(*model.EmergencyRequest) error) (model.EmergencyRequest, error) {
	return s.update(id, 0, mutator)
}

// UpdateIf is Update with an optimistic version check: if the request's
// current version differs from expected, ErrConflict is returned and the
// mutator never runs.
func (s *Store) UpdateIf(id string, expected int64, mutator func(*model.EmergencyRequest) error) (model.EmergencyRequest, error) {
	return s.update(id, expected, mutator)
}

func (s *Store) update(id string, expected int64, mutator func(*model.EmergencyRequest) error) (model.EmergencyRequest, error) {
	e, err := s.entry(id)
	if err != nil {
		return model.EmergencyRequest{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if expected != 0 && e.req.Version != expected {
		return model.EmergencyRequest{}, ErrConflict
	}

	work := snapshot(&e.req)
	if err := mutator(&work); err != nil {
		return model.EmergencyRequest{}, err
	}

	// Immutable fields survive whatever the mutator did to its copy.
	work.ID = e.req.ID
	work.RequesterID = e.req.RequesterID
	work.CreatedAt = e.req.CreatedAt

	work.Version = e.req.Version + 1
	work.UpdatedAt = time.Now().UTC()
	e.req = work

	return snapshot(&e.req), nil
}

// ListActive returns snapshots of all non-completed requests matching the
// filter, oldest first. The result is a point-in-time copy; callers re-poll
// or subscribe for updates.
func (s *Store) ListActive(filter model.Filter) []model.EmergencyRequest {
	filter.IncludeCompleted = false
	return s.List(filter)
}

// List returns snapshots of all requests matching the filter, oldest first.
func (s *Store) List(filter model.Filter) []model.EmergencyRequest {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := []model.EmergencyRequest{}
	for _, e := range entries {
		e.mu.Lock()
		if filter.Matches(&e.req) {
			out = append(out, snapshot(&e.req))
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the total number of requests, including completed ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) entry(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// snapshot deep-copies a request so callers never share memory with the
// stored record.
func snapshot(r *model.EmergencyRequest) model.EmergencyRequest {
	out := *r
	if r.CancelledAt != nil {
		t := *r.CancelledAt
		out.CancelledAt = &t
	}
	return out
}
