package stream

import "time"

// State is the connection lifecycle position.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Reconnecting
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Reconnecting:
		return "RECONNECTING"
	case Failed:
		return "FAILED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Transition describes one state change. Delay is set when entering
// Reconnecting; Err carries the failure that caused the change, if any.
type Transition struct {
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
	At      time.Time
}

// Backoff computes reconnect delays as min(Base * 2^attempt, Max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the given attempt. It is non-decreasing in
// attempt and never exceeds Max when Max is set.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
