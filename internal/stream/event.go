package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one decoded server-pushed notification. Payload is the whole
// frame object; the layer keeps no reference once a sink has it.
type Event struct {
	Category   string          `json:"category"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Sink receives events in wire order. Notify runs on the stream's reader
// goroutine and must return promptly.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Notify(ev Event) { f(ev) }

// parseEvent decodes a frame. The category comes from the object's
// "category" field, falling back to the transport-level event name.
func parseEvent(f Frame, now time.Time) (Event, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(f.Data, &obj); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if obj == nil {
		return Event{}, fmt.Errorf("%w: frame is not a JSON object", ErrProtocol)
	}
	category := f.Name
	if raw, ok := obj["category"]; ok {
		var c string
		if err := json.Unmarshal(raw, &c); err != nil {
			return Event{}, fmt.Errorf("%w: category is not a string", ErrProtocol)
		}
		if c != "" {
			category = c
		}
	}
	if category == "" {
		return Event{}, fmt.Errorf("%w: frame has no category", ErrProtocol)
	}
	payload := make(json.RawMessage, len(f.Data))
	copy(payload, f.Data)
	return Event{Category: category, Payload: payload, ReceivedAt: now}, nil
}
