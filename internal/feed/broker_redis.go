package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over Redis pub/sub so that several service
// instances share one event stream. Topic names become Redis channels under
// the "dispatch:" prefix.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[chan Event]*redis.PubSub
}

// NewRedisBroker wraps an already-connected client.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, subs: map[chan Event]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()

	ps := b.rdb.Subscribe(ctx, channelName(topic))
	// First receive confirms the subscription is live before we hand the
	// channel to the caller.
	if _, err := ps.Receive(ctx); err != nil {
		log.Printf("[feed] redis subscribe %s: %v", topic, err)
	}

	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Printf("[feed] redis payload decode: %v", err)
				continue
			}
			select {
			case ch <- evt:
			default: // slow subscriber, drop
			}
		}
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}()

	return ch
}

func (b *RedisBroker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	b.mu.Unlock()
	if !ok {
		return
	}
	// Closing the PubSub ends the pump goroutine, which removes the entry
	// and closes ch exactly once.
	_ = ps.Close()
}

func (b *RedisBroker) Publish(topic string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[feed] redis payload encode: %v", err)
		return
	}
	if err := b.rdb.Publish(ctx, channelName(topic), data).Err(); err != nil {
		log.Printf("[feed] redis publish %s: %v", topic, err)
	}
}

func channelName(topic string) string { return "dispatch:" + topic }
