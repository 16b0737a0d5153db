package testserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// checkHandshake validates a stream request and writes the rejection when it
// fails. Injected handshake failures take precedence.
func (s *Server) checkHandshake(w http.ResponseWriter, r *http.Request) bool {
	s.handshakes.Add(1)
	if s.faults.handshakeFails.Load() > 0 && s.faults.handshakeFails.Add(-1) >= 0 {
		code := int(s.faults.handshakeCode.Load())
		writeError(w, code, http.StatusText(code))
		return false
	}
	claims, err := s.checkBearer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	tok := r.Header.Get(s.xsrfHeader)
	s.mu.Lock()
	owner, ok := s.xsrf[tok]
	s.mu.Unlock()
	if tok == "" || !ok || owner != claims.SessionID {
		writeError(w, http.StatusForbidden, "anti-forgery token missing or invalid")
		return false
	}
	return true
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.checkHandshake(w, r) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub, ok := s.hub.subscribe()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	defer s.hub.unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.done:
			return
		case <-ping.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
		case msg := <-sub.send:
			writeSSE(w, msg)
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, msg message) {
	var b strings.Builder
	if msg.name != "" {
		b.WriteString("event: " + msg.name + "\n")
	}
	for _, line := range strings.Split(string(msg.data), "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	_, _ = fmt.Fprint(w, b.String())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkHandshake(w, r) {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub, ok := s.hub.subscribe()
	if !ok {
		return
	}
	defer s.hub.unsubscribe(sub)

	// The reader only drains control frames; the client never sends data.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-sub.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(2*time.Second)); err != nil {
				return
			}
		case msg := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				return
			}
		}
	}
}
