// Package scheduler runs the ETA countdowns: one goroutine per en_route
// request, decrementing the remaining minutes once per tick and raising the
// arrived transition when the countdown reaches zero.
//
// Concurrency model:
//   - Exactly one countdown per request id; Start is idempotent, a second
//     start for a live id is a no-op.
//   - Every mutation goes through the request store, so ticks serialize with
//     gateway writes in the same per-request exclusive section.
//   - Stop cancels the countdown and WAITS for its goroutine to exit. A
//     fire-and-forget stop would let a late tick race the cancellation and
//     resurrect a stale transition.
//   - A countdown that loses a race (the request left en_route under it) logs
//     the discarded event and exits; it never retries and never affects any
//     other request's countdown.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shiva/ambutrack/internal/feed"
	"github.com/shiva/ambutrack/internal/lifecycle"
	"github.com/shiva/ambutrack/internal/metrics"
	"github.com/shiva/ambutrack/internal/model"
	"github.com/shiva/ambutrack/internal/store"
)

// errLeftEnRoute aborts a tick's store update when the request is no longer
// counting down (cancelled or manually arrived). Internal only.
var errLeftEnRoute = errors.New("request left en_route")

// Publisher receives one event per committed tick. *feed.Feed satisfies it.
type Publisher interface {
	Publish(evt feed.Event)
}

// countdown is the cancellable handle for one request's timer goroutine.
type countdown struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns all countdown goroutines.
type Scheduler struct {
	store *store.Store
	pub   Publisher
	tick  time.Duration

	mu         sync.Mutex
	countdowns map[string]*countdown
}

// New creates a scheduler. tick is the wall-clock length of one simulated
// minute; tests and demos shorten it.
func New(st *store.Store, pub Publisher, tick time.Duration) *Scheduler {
	return &Scheduler{
		store:      st,
		pub:        pub,
		tick:       tick,
		countdowns: map[string]*countdown{},
	}
}

// Start launches the countdown for id. Idempotent: if a countdown for this
// id is already live, Start does nothing and reports false.
func (s *Scheduler) Start(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.countdowns[id]; running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	cd := &countdown{cancel: cancel, done: make(chan struct{})}
	s.countdowns[id] = cd
	metrics.ActiveCountdowns.Inc()

	go s.run(ctx, id, cd)
	return true
}

// Stop cancels the countdown for id and blocks until its goroutine has
// exited, so no tick can commit after Stop returns. Reports whether a
// countdown was running.
func (s *Scheduler) Stop(id string) bool {
	s.mu.Lock()
	cd, ok := s.countdowns[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cd.cancel()
	<-cd.done
	return true
}

// Active returns the number of live countdowns.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.countdowns)
}

// Close stops every countdown and waits for all goroutines to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	cds := make([]*countdown, 0, len(s.countdowns))
	for _, cd := range s.countdowns {
		cds = append(cds, cd)
	}
	s.mu.Unlock()

	for _, cd := range cds {
		cd.cancel()
		<-cd.done
	}
}

// run is one request's countdown loop.
func (s *Scheduler) run(ctx context.Context, id string, cd *countdown) {
	defer func() {
		s.mu.Lock()
		if s.countdowns[id] == cd {
			delete(s.countdowns, id)
		}
		s.mu.Unlock()
		metrics.ActiveCountdowns.Dec()
		close(cd.done)
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			arrived, stop := s.step(id)
			if arrived || stop {
				return
			}
		}
	}
}

// step commits one tick: decrement the ETA and, at zero, apply the arrived
// transition inside the same exclusive section. Returns arrived when the
// request reached arrival, stop when the countdown must end for any other
// reason.
func (s *Scheduler) step(id string) (arrived, stop bool) {
	snap, err := s.store.Update(id, func(r *model.EmergencyRequest) error {
		if r.Status != model.StatusEnRoute {
			return errLeftEnRoute
		}
		if r.EtaMinutes > 0 {
			r.EtaMinutes--
		}
		if r.EtaMinutes == 0 {
			next, err := lifecycle.Next(r.Status, lifecycle.EventArrived)
			if err != nil {
				return err
			}
			r.Status = next
		}
		return nil
	})

	switch {
	case errors.Is(err, errLeftEnRoute):
		// Cancelled or manually arrived between ticks. Discard quietly.
		return false, true
	case errors.Is(err, store.ErrNotFound), errors.Is(err, lifecycle.ErrInvalidTransition):
		// The arrived event lost a race; log and discard, never retry.
		log.Printf("[scheduler] discarding arrived event for %s: %v", id, err)
		return false, true
	case err != nil:
		log.Printf("[scheduler] tick for %s failed: %v", id, err)
		return false, true
	}

	metrics.EtaTicks.Inc()

	if snap.Status == model.StatusArrived {
		metrics.Transitions.WithLabelValues(string(lifecycle.EventArrived), "ok").Inc()
		log.Printf("[scheduler] request %s arrived (planned %d min)", id, snap.InitialEtaMinutes)
		s.pub.Publish(feed.Event{Type: feed.TypeArrived, Request: snap})
		return true, false
	}

	s.pub.Publish(feed.Event{Type: feed.TypeEta, Request: snap})
	return false, false
}
