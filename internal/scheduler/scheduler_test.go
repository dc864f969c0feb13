package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/shiva/ambutrack/internal/feed"
	"github.com/shiva/ambutrack/internal/model"
	"github.com/shiva/ambutrack/internal/store"
)

// capture collects published events for assertions.
type capture struct {
	mu     sync.Mutex
	events []feed.Event
}

func (c *capture) Publish(evt feed.Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func (c *capture) byType(t string) []feed.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []feed.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func enRouteRequest(st *store.Store, eta int) model.EmergencyRequest {
	req := st.Create(model.EmergencyRequest{
		RequesterID: "p1",
		Location:    "Area 3",
		Contact:     "099-111",
		Priority:    model.PriorityHigh,
		Status:      model.StatusEnRoute,
	})
	req, _ = st.Update(req.ID, func(r *model.EmergencyRequest) error {
		r.EtaMinutes = eta
		r.InitialEtaMinutes = eta
		return nil
	})
	return req
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestCountdownReachesArrivedAtZero(t *testing.T) {
	st := store.New()
	pub := &capture{}
	s := New(st, pub, 3*time.Millisecond)
	defer s.Close()

	req := enRouteRequest(st, 4)
	if !s.Start(req.ID) {
		t.Fatal("Start must launch a countdown")
	}

	waitFor(t, 2*time.Second, func() bool {
		got, _ := st.Get(req.ID)
		return got.Status == model.StatusArrived
	})

	got, _ := st.Get(req.ID)
	if got.EtaMinutes != 0 {
		t.Errorf("eta at arrival = %d, want 0", got.EtaMinutes)
	}
	if got.InitialEtaMinutes != 4 {
		t.Errorf("initial eta = %d, want 4", got.InitialEtaMinutes)
	}

	waitFor(t, time.Second, func() bool { return s.Active() == 0 })

	if n := len(pub.byType(feed.TypeArrived)); n != 1 {
		t.Errorf("arrived events = %d, want 1", n)
	}
	// Three decrements before the arrival tick.
	if n := len(pub.byType(feed.TypeEta)); n != 3 {
		t.Errorf("eta events = %d, want 3", n)
	}
}

func TestEtaIsNonIncreasing(t *testing.T) {
	st := store.New()
	pub := &capture{}
	s := New(st, pub, 3*time.Millisecond)
	defer s.Close()

	req := enRouteRequest(st, 5)
	s.Start(req.ID)

	waitFor(t, 2*time.Second, func() bool {
		got, _ := st.Get(req.ID)
		return got.Status == model.StatusArrived
	})

	last := 5
	for _, evt := range pub.byType(feed.TypeEta) {
		if evt.Request.EtaMinutes > last {
			t.Fatalf("eta increased: %d after %d", evt.Request.EtaMinutes, last)
		}
		last = evt.Request.EtaMinutes
	}
}

func TestStartIsIdempotent(t *testing.T) {
	st := store.New()
	s := New(st, &capture{}, time.Hour) // never ticks during the test
	defer s.Close()

	req := enRouteRequest(st, 10)
	if !s.Start(req.ID) {
		t.Fatal("first Start must launch")
	}
	if s.Start(req.ID) {
		t.Error("second Start for a live id must be a no-op")
	}
	if s.Active() != 1 {
		t.Errorf("active countdowns = %d, want 1", s.Active())
	}
}

func TestStopIsSynchronous(t *testing.T) {
	st := store.New()
	s := New(st, &capture{}, 3*time.Millisecond)
	defer s.Close()

	req := enRouteRequest(st, 1000)
	s.Start(req.ID)

	// Let at least one tick land.
	waitFor(t, time.Second, func() bool {
		got, _ := st.Get(req.ID)
		return got.EtaMinutes < 1000
	})

	if !s.Stop(req.ID) {
		t.Fatal("Stop must report a running countdown")
	}

	// After Stop returns, no tick may commit ever again.
	frozen, _ := st.Get(req.ID)
	time.Sleep(30 * time.Millisecond)
	got, _ := st.Get(req.ID)
	if got.Version != frozen.Version || got.EtaMinutes != frozen.EtaMinutes {
		t.Errorf("mutation after Stop: version %d→%d, eta %d→%d",
			frozen.Version, got.Version, frozen.EtaMinutes, got.EtaMinutes)
	}
	if s.Active() != 0 {
		t.Errorf("active countdowns = %d, want 0", s.Active())
	}
}

func TestCountdownExitsWhenRequestLeavesEnRoute(t *testing.T) {
	st := store.New()
	pub := &capture{}
	s := New(st, pub, 3*time.Millisecond)
	defer s.Close()

	req := enRouteRequest(st, 1000)
	s.Start(req.ID)

	// External cancellation: the request leaves en_route under the countdown.
	now := time.Now().UTC()
	if _, err := st.Update(req.ID, func(r *model.EmergencyRequest) error {
		r.Status = model.StatusCompleted
		r.Cancelled = true
		r.CancelledAt = &now
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The next tick must notice and release the slot without mutating.
	waitFor(t, time.Second, func() bool { return s.Active() == 0 })

	after, _ := st.Get(req.ID)
	time.Sleep(30 * time.Millisecond)
	final, _ := st.Get(req.ID)
	if final.Version != after.Version {
		t.Error("countdown kept mutating a cancelled request")
	}
	if len(pub.byType(feed.TypeArrived)) != 0 {
		t.Error("cancelled request must not produce an arrived event")
	}
}

// A failing or cancelled countdown must not disturb any other request.
func TestCountdownFaultIsolation(t *testing.T) {
	st := store.New()
	pub := &capture{}
	s := New(st, pub, 3*time.Millisecond)
	defer s.Close()

	doomed := enRouteRequest(st, 1000)
	healthy := enRouteRequest(st, 3)
	s.Start(doomed.ID)
	s.Start(healthy.ID)

	if _, err := st.Update(doomed.ID, func(r *model.EmergencyRequest) error {
		r.Status = model.StatusCompleted
		r.Cancelled = true
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	s.Stop(doomed.ID)

	waitFor(t, 2*time.Second, func() bool {
		got, _ := st.Get(healthy.ID)
		return got.Status == model.StatusArrived && got.EtaMinutes == 0
	})
}
