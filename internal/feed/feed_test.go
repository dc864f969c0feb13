package feed

import (
	"testing"
	"time"

	"github.com/shiva/ambutrack/internal/model"
	"github.com/shiva/ambutrack/internal/store"
)

func TestMemoryBrokerPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	ch := b.Subscribe("request:r1")

	evt := Event{Type: TypeEta, Request: model.EmergencyRequest{ID: "r1", EtaMinutes: 7}}
	b.Publish("request:r1", evt)

	select {
	case got := <-ch:
		if got.Type != TypeEta || got.Request.EtaMinutes != 7 {
			t.Fatalf("got %+v, want %+v", got, evt)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe("request:r1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}
}

func TestMemoryBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewMemoryBroker()
	ch := b.Subscribe("all")
	defer b.Unsubscribe("all", ch)

	// Overflow the buffer without draining; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("all", Event{Type: TypeEta})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestMemoryBrokerIsolatesTopics(t *testing.T) {
	b := NewMemoryBroker()
	other := b.Subscribe("requester:p2")
	defer b.Unsubscribe("requester:p2", other)

	b.Publish("requester:p1", Event{Type: TypeCreated})

	select {
	case evt := <-other:
		t.Fatalf("subscriber on another topic received %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedSubscribePicksMostSpecificTopic(t *testing.T) {
	st := store.New()
	f := New(st, NewMemoryBroker())

	req := st.Create(model.EmergencyRequest{
		RequesterID: "p1",
		Location:    "Area 3",
		Contact:     "099-111",
		Status:      model.StatusDispatched,
		Priority:    model.PriorityMedium,
	})

	byRequest, stopA := f.Subscribe(model.Filter{RequestID: req.ID})
	defer stopA()
	byRequester, stopB := f.Subscribe(model.Filter{RequesterID: "p1"})
	defer stopB()
	global, stopC := f.Subscribe(model.Filter{})
	defer stopC()

	f.Publish(Event{Type: TypeCreated, Request: req})

	for name, ch := range map[string]chan Event{"request": byRequest, "requester": byRequester, "all": global} {
		select {
		case got := <-ch:
			if got.Type != TypeCreated || got.Request.ID != req.ID {
				t.Errorf("%s subscriber got %+v", name, got)
			}
		case <-time.After(200 * time.Millisecond):
			t.Errorf("%s subscriber received nothing", name)
		}
	}
}

func TestFeedPollMatchesStoreSnapshot(t *testing.T) {
	st := store.New()
	f := New(st, NewMemoryBroker())

	st.Create(model.EmergencyRequest{RequesterID: "p1", Location: "A", Contact: "1", Status: model.StatusDispatched})
	st.Create(model.EmergencyRequest{RequesterID: "p2", Location: "B", Contact: "2", Status: model.StatusDispatched})

	if got := f.Poll(model.Filter{}); len(got) != 2 {
		t.Fatalf("Poll(all) = %d, want 2", len(got))
	}
	if got := f.Poll(model.Filter{RequesterID: "p1"}); len(got) != 1 || got[0].RequesterID != "p1" {
		t.Fatalf("Poll(p1) = %+v", got)
	}
}
