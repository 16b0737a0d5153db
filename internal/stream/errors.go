package stream

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated   = errors.New("stream: no access token")
	ErrAttemptsExhausted = errors.New("stream: reconnect attempts exhausted")
	ErrHandshake         = errors.New("stream: handshake rejected")
	ErrProtocol          = errors.New("stream: malformed frame or handshake")
	ErrIdleTimeout       = errors.New("stream: no traffic within idle timeout")

	// errStopped is the cancel cause for attempts torn down on purpose.
	errStopped = errors.New("stream: stopped")
)

// HandshakeError reports a non-success handshake status.
type HandshakeError struct {
	Status int
	Body   string
}

func (e *HandshakeError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%v (HTTP %d): %s", ErrHandshake, e.Status, e.Body)
	}
	return fmt.Sprintf("%v (HTTP %d)", ErrHandshake, e.Status)
}

func (e *HandshakeError) Unwrap() error {
	return ErrHandshake
}
