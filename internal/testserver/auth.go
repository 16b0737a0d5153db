package testserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var (
	errMissingBearer = errors.New("missing bearer token")
	errStaleToken    = errors.New("token expired")
	errNoSession     = errors.New("session ended")
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.logins.Add(1)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid login body")
		return
	}
	if pw, ok := s.users[req.Username]; !ok || pw != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	device := req.DeviceID
	if device == "" {
		device = r.Header.Get(s.deviceHeader)
	}
	if device == "" {
		device = uuid.NewString()
	}

	sid := uuid.NewString()
	refresh := uuid.NewString()
	s.mu.Lock()
	s.sessions[sid] = &session{user: req.Username, device: device, refresh: refresh}
	s.refresh[refresh] = sid
	gen := s.gen
	s.mu.Unlock()

	tok, err := s.tokens.issue(req.Username, sid, gen)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    refresh,
		Path:     "/auth",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	s.log.Info().Str("user", req.Username).Str("device_id", device).Msg("login")
	writeData(w, http.StatusOK, map[string]string{"accessToken": tok, "deviceId": device})
}

// handleRefresh trades the refresh cookie for a new access token. The device
// header must match the device the session was opened on.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n := s.refreshes.Add(1)
	if d := time.Duration(s.faults.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	if s.faults.rejectRefresh.Load() {
		writeError(w, http.StatusUnauthorized, "refresh rejected")
		return
	}
	c, err := r.Cookie(RefreshCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing refresh cookie")
		return
	}

	s.mu.Lock()
	sid, ok := s.refresh[c.Value]
	var sess *session
	if ok {
		sess = s.sessions[sid]
	}
	gen := s.gen
	s.mu.Unlock()
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "unknown refresh token")
		return
	}
	if dev := r.Header.Get(s.deviceHeader); dev != sess.device {
		writeError(w, http.StatusUnauthorized, "device mismatch")
		return
	}

	tok, err := s.tokens.issue(sess.user, sid, gen)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}
	s.log.Debug().Int32("refresh", n).Str("user", sess.user).Msg("token refreshed")
	writeData(w, http.StatusOK, map[string]string{"accessToken": tok})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, err := s.checkBearer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.endSession(claims.SessionID)
	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: "", Path: "/auth", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// handleAntiForgery issues a token bound to the caller's session, required on
// the stream handshake.
func (s *Server) handleAntiForgery(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	tok := uuid.NewString()
	s.mu.Lock()
	s.xsrf[tok] = claims.SessionID
	s.mu.Unlock()
	writeData(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) endSession(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return
	}
	delete(s.sessions, sid)
	delete(s.refresh, sess.refresh)
	for tok, owner := range s.xsrf {
		if owner == sid {
			delete(s.xsrf, tok)
		}
	}
}
