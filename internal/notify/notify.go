// Package notify holds the consumer side of the notification stream: a
// bounded in-memory cache and a category filter, both usable as a
// stream.Sink.
package notify

import (
	"sync"

	"github.com/large-farva/tether/internal/stream"
)

// Sink is the collaborator the stream manager delivers to.
type Sink = stream.Sink

// SinkFunc adapts a function to Sink.
type SinkFunc = stream.SinkFunc

// DefaultCapacity is the Buffer size used when NewBuffer is given n <= 0.
const DefaultCapacity = 100

// Buffer keeps the newest events in arrival order and drops the oldest once
// full. Counts survive eviction.
type Buffer struct {
	mu     sync.Mutex
	ring   []stream.Event
	start  int
	size   int
	counts map[string]int
	total  int
}

func NewBuffer(n int) *Buffer {
	if n <= 0 {
		n = DefaultCapacity
	}
	return &Buffer{ring: make([]stream.Event, n), counts: make(map[string]int)}
}

func (b *Buffer) Notify(ev stream.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < len(b.ring) {
		b.ring[(b.start+b.size)%len(b.ring)] = ev
		b.size++
	} else {
		b.ring[b.start] = ev
		b.start = (b.start + 1) % len(b.ring)
	}
	b.counts[ev.Category]++
	b.total++
}

// Snapshot returns the cached events, oldest first.
func (b *Buffer) Snapshot() []stream.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]stream.Event, b.size)
	for i := range b.size {
		out[i] = b.ring[(b.start+i)%len(b.ring)]
	}
	return out
}

// Counts returns how many events of each category were ever received.
func (b *Buffer) Counts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}

// Total is the number of events ever received, evicted ones included.
func (b *Buffer) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Reset empties the cache and the counters, e.g. on logout.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.ring)
	b.start, b.size, b.total = 0, 0, 0
	b.counts = make(map[string]int)
}

// Filter forwards only events whose category is in the allow-list. An empty
// list forwards everything.
func Filter(next Sink, categories ...string) Sink {
	if len(categories) == 0 {
		return next
	}
	allow := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		allow[c] = struct{}{}
	}
	return SinkFunc(func(ev stream.Event) {
		if _, ok := allow[ev.Category]; ok {
			next.Notify(ev)
		}
	})
}

// Tee delivers each event to every sink in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ev stream.Event) {
		for _, s := range sinks {
			s.Notify(ev)
		}
	})
}
