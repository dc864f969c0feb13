// Package feed is the read path of the dispatch core: it lets any number of
// dashboards observe request state without ever mutating it.
//
// Two consumption modes:
//   - Poll: a point-in-time snapshot list from the request store.
//   - Subscribe: a push stream of events over a topic broker. The default
//     broker is in-memory; a Redis pub/sub broker can be swapped in so
//     several instances share one stream.
//
// Writers (dispatch service, ETA scheduler) publish exactly one event per
// committed mutation. Slow subscribers drop events rather than block writers;
// a dropped subscriber re-syncs by polling.
package feed

import (
	"github.com/shiva/ambutrack/internal/model"
	"github.com/shiva/ambutrack/internal/store"
)

// Event types, one per committed mutation kind.
const (
	TypeCreated   = "request.created"
	TypeEnRoute   = "request.enroute"
	TypeEta       = "request.eta"
	TypeArrived   = "request.arrived"
	TypeCompleted = "request.completed"
	TypeCancelled = "request.cancelled"
)

// Event carries a committed snapshot of the request that changed.
type Event struct {
	Type    string                 `json:"type"`
	Request model.EmergencyRequest `json:"request"`
}

// Broker fans events out to subscribers by topic.
type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Topic names. Every event is published to the global topic plus the
// request's own topic and its requester's topic.
const TopicAll = "all"

// TopicRequest is the per-request topic (single tracker widget).
func TopicRequest(id string) string { return "request:" + id }

// TopicRequester is the per-account topic (patient dashboard).
func TopicRequester(id string) string { return "requester:" + id }

// Feed combines the store's poll path with the broker's push path.
type Feed struct {
	store  *store.Store
	broker Broker
}

// New creates a feed over the given store and broker.
func New(st *store.Store, broker Broker) *Feed {
	return &Feed{store: st, broker: broker}
}

// Poll returns a consistent snapshot of all requests matching the filter.
func (f *Feed) Poll(filter model.Filter) []model.EmergencyRequest {
	if filter.IncludeCompleted {
		return f.store.List(filter)
	}
	return f.store.ListActive(filter)
}

// Subscribe returns a stream of events for the filter. The second return
// value unsubscribes and closes the channel; callers must invoke it.
//
// The most specific topic wins: a RequestID filter subscribes to that
// request only, a RequesterID filter to that account, anything else to the
// global stream.
func (f *Feed) Subscribe(filter model.Filter) (chan Event, func()) {
	topic := TopicAll
	switch {
	case filter.RequestID != "":
		topic = TopicRequest(filter.RequestID)
	case filter.RequesterID != "":
		topic = TopicRequester(filter.RequesterID)
	}
	ch := f.broker.Subscribe(topic)
	return ch, func() { f.broker.Unsubscribe(topic, ch) }
}

// Publish fans an event out to the global, per-request and per-requester
// topics. Called by writers after every commit.
func (f *Feed) Publish(evt Event) {
	f.broker.Publish(TopicAll, evt)
	f.broker.Publish(TopicRequest(evt.Request.ID), evt)
	f.broker.Publish(TopicRequester(evt.Request.RequesterID), evt)
}
