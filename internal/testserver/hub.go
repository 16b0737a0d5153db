package testserver

import (
	"context"
	"encoding/json"
	"sync/atomic"
)

// message is one frame queued for every subscriber. Name is only used by
// the SSE endpoint ("event:" field).
type message struct {
	name string
	data []byte
}

// subscriber is one open stream, SSE or WebSocket. The hub closes done when
// it drops the subscriber; the handler owning it then returns.
type subscriber struct {
	send chan message
	done chan struct{}
}

// Hub fans notifications out to every open stream. Register, unregister,
// broadcast and kick all go through channels into a single select loop.
type Hub struct {
	subs       map[*subscriber]struct{}
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan message
	kick       chan struct{}
	stopped    chan struct{}

	count atomic.Int32
}

// NewHub allocates a hub with buffered channels.
// Call Run in a goroutine to start the event loop.
func NewHub() *Hub {
	return &Hub{
		subs:       make(map[*subscriber]struct{}),
		register:   make(chan *subscriber, 16),
		unregister: make(chan *subscriber, 16),
		broadcast:  make(chan message, 256),
		kick:       make(chan struct{}, 1),
		stopped:    make(chan struct{}),
	}
}

// Run processes registrations, unregistrations, broadcasts and kicks. It
// drops every subscriber when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			for s := range h.subs {
				h.drop(s)
			}
			return

		case s := <-h.register:
			h.subs[s] = struct{}{}
			h.count.Store(int32(len(h.subs)))

		case s := <-h.unregister:
			h.drop(s)

		case msg := <-h.broadcast:
			for s := range h.subs {
				select {
				case s.send <- msg:
				default:
					// slow consumer
					h.drop(s)
				}
			}

		case <-h.kick:
			for s := range h.subs {
				h.drop(s)
			}
		}
	}
}

func (h *Hub) drop(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.done)
	h.count.Store(int32(len(h.subs)))
}

// subscribe registers a new stream. ok is false once the hub has stopped.
func (h *Hub) subscribe() (*subscriber, bool) {
	s := &subscriber{send: make(chan message, 64), done: make(chan struct{})}
	select {
	case h.register <- s:
		return s, true
	case <-h.stopped:
		return nil, false
	}
}

func (h *Hub) unsubscribe(s *subscriber) {
	select {
	case h.unregister <- s:
	case <-h.stopped:
	}
}

// Subscribers is the number of open streams.
func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

// BroadcastJSON marshals v to JSON and queues it for every subscriber. If
// the broadcast channel is full the message is silently dropped to avoid
// blocking the caller.
func (h *Hub) BroadcastJSON(name string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.BroadcastRaw(name, b)
}

// BroadcastRaw queues b as is, valid JSON or not.
func (h *Hub) BroadcastRaw(name string, b []byte) {
	select {
	case h.broadcast <- message{name: name, data: b}:
	default:
	}
}

// Kick drops every open stream without stopping the hub, as a server
// restart would.
func (h *Hub) Kick() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}
