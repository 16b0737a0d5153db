package testserver

import (
	"time"
)

// ForceUnauthorized makes the next n authenticated API calls answer 401
// whatever token they carry.
func (s *Server) ForceUnauthorized(n int) {
	s.faults.force401.Store(int32(n))
}

// RejectRefresh makes the refresh endpoint answer 401 while on is true.
func (s *Server) RejectRefresh(on bool) {
	s.faults.rejectRefresh.Store(on)
}

// SetRefreshDelay holds every refresh call for d before answering.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.faults.refreshDelay.Store(int64(d))
}

// FailHandshakes makes the next n stream handshakes answer status.
func (s *Server) FailHandshakes(n, status int) {
	s.faults.handshakeCode.Store(int32(status))
	s.faults.handshakeFails.Store(int32(n))
}

// ExpireTokens invalidates every access token issued so far. Sessions and
// refresh cookies stay valid, so clients recover with one refresh.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

// RevokeAll ends every session. Clients can no longer refresh.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for sid := range s.sessions {
		ids = append(ids, sid)
	}
	s.mu.Unlock()
	for _, sid := range ids {
		s.endSession(sid)
	}
}

// DropStreams closes every open stream, as a restart would.
func (s *Server) DropStreams() {
	s.hub.Kick()
}

// Publish sends a notification to every open stream.
func (s *Server) Publish(n Notification) {
	if n.TS == "" {
		n.TS = NowTS()
	}
	s.hub.BroadcastJSON("", n)
}

// PublishRaw sends b unmodified, e.g. a malformed frame.
func (s *Server) PublishRaw(b []byte) {
	s.hub.BroadcastRaw("", b)
}

// Stats are the request counters tests assert on.
type Stats struct {
	Logins     int
	Refreshes  int
	Handshakes int
	APICalls   int
	Sessions   int
	Streams    int
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	sessions := len(s.sessions)
	s.mu.Unlock()
	return Stats{
		Logins:     int(s.logins.Load()),
		Refreshes:  int(s.refreshes.Load()),
		Handshakes: int(s.handshakes.Load()),
		APICalls:   int(s.apiCalls.Load()),
		Sessions:   sessions,
		Streams:    s.hub.Subscribers(),
	}
}
