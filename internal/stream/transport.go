package stream

import (
	"context"
	"net/http"
)

// Handshake is what a Dialer needs to open the stream.
type Handshake struct {
	URL    string
	Header http.Header
	// Keepalive is called for transport-level liveness signals that carry no
	// event (SSE comments, WebSocket pings). May be nil.
	Keepalive func()
}

func (h Handshake) touch() {
	if h.Keepalive != nil {
		h.Keepalive()
	}
}

// Frame is one raw message off the wire. Name is the transport-level event
// name when the transport has one (SSE "event:" field).
type Frame struct {
	Name string
	Data []byte
}

// Dialer opens one stream connection. Dial returns only after the server
// accepted the handshake; a rejected handshake is a *HandshakeError.
// Cancelling ctx must abort both the dial and any blocked Next call.
type Dialer interface {
	Dial(ctx context.Context, hs Handshake) (Conn, error)
}

// Conn is owned by exactly one reader goroutine.
type Conn interface {
	Next() (Frame, error)
	Close() error
}
