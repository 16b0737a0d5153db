// Package testserver is a stand-in for the back-office API the client talks
// to: credential endpoints issuing HS256 access tokens, a bearer-protected
// echo API, and SSE and WebSocket notification streams fed by one hub. It
// carries fault-injection knobs so the client's recovery paths can be driven
// from tests and from tetherd.
package testserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/large-farva/tether/internal/log"
)

const (
	RefreshCookie = "tether_refresh"

	defaultTokenTTL     = 5 * time.Minute
	defaultPingInterval = 15 * time.Second
	defaultLoginLimit   = 30
)

// Options configures a Server. The zero value is usable.
type Options struct {
	Secret   string
	TokenTTL time.Duration
	// Users maps usernames to passwords. Defaults to agent/secret.
	Users map[string]string
	// PingInterval is how often idle streams get a keepalive (SSE comment or
	// WebSocket ping).
	PingInterval      time.Duration
	DeviceHeader      string
	AntiForgeryHeader string
	// LoginLimit caps login attempts per client IP per minute. Defaults to 30.
	LoginLimit int
	Logger     *zerolog.Logger
}

type session struct {
	user    string
	device  string
	refresh string
}

// Server is the fake backend. It is safe for concurrent use.
type Server struct {
	log          zerolog.Logger
	tokens       *tokenIssuer
	users        map[string]string
	pingInterval time.Duration
	deviceHeader string
	xsrfHeader   string
	loginLimit   int
	hub          *Hub
	upgrader     websocket.Upgrader
	startedAt    time.Time

	mu       sync.Mutex
	sessions map[string]*session // by session id
	refresh  map[string]string   // refresh token -> session id
	xsrf     map[string]string   // anti-forgery token -> session id
	gen      int64

	faults faults

	logins     atomic.Int32
	refreshes  atomic.Int32
	handshakes atomic.Int32
	apiCalls   atomic.Int32
}

type faults struct {
	force401       atomic.Int32
	rejectRefresh  atomic.Bool
	refreshDelay   atomic.Int64
	handshakeFails atomic.Int32
	handshakeCode  atomic.Int32
}

func New(opts Options) *Server {
	logger := log.WithComponent("testserver")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	secret := opts.Secret
	if secret == "" {
		secret = uuid.NewString()
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	users := opts.Users
	if users == nil {
		users = map[string]string{"agent": "secret"}
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	deviceHeader := opts.DeviceHeader
	if deviceHeader == "" {
		deviceHeader = "X-Device-Id"
	}
	xsrfHeader := opts.AntiForgeryHeader
	if xsrfHeader == "" {
		xsrfHeader = "X-XSRF-TOKEN"
	}
	loginLimit := opts.LoginLimit
	if loginLimit <= 0 {
		loginLimit = defaultLoginLimit
	}
	return &Server{
		log:          logger,
		loginLimit:   loginLimit,
		tokens:       &tokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now},
		users:        users,
		pingInterval: ping,
		deviceHeader: deviceHeader,
		xsrfHeader:   xsrfHeader,
		hub:          NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		startedAt: time.Now(),
		sessions:  make(map[string]*session),
		refresh:   make(map[string]string),
		xsrf:      make(map[string]string),
	}
}

// Hub returns the broadcast hub feeding both stream endpoints.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router. The hub must be running for the stream
// endpoints to accept subscribers.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(s.log), requestID, accessLog(s.log))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/version", s.handleVersion)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.With(limitLogins(s.loginLimit)).Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Get("/antiforgery", s.handleAntiForgery)
	})

	r.Get("/api/status", s.handleStatus)
	r.HandleFunc("/api/*", s.handleEcho)

	r.Get("/notifications/stream", s.handleSSE)
	r.Get("/notifications/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	s.mu.Lock()
	sessions := len(s.sessions)
	s.mu.Unlock()
	writeData(w, http.StatusOK, map[string]any{
		"name":           "tether-testserver",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"sessions":       sessions,
		"subscribers":    s.hub.Subscribers(),
		"refreshes":      s.refreshes.Load(),
	})
}

// handleEcho answers any /api/* call with what it received. A status query
// parameter makes it answer with that status instead.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	s.apiCalls.Add(1)
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if code := r.URL.Query().Get("status"); code != "" {
		status := atoiOr(code, http.StatusOK)
		if status >= 400 {
			writeError(w, status, http.StatusText(status))
			return
		}
	}
	n, _ := countBody(r)
	writeData(w, http.StatusOK, map[string]any{
		"method":      r.Method,
		"path":        r.URL.Path,
		"query":       r.URL.RawQuery,
		"user":        claims.Subject,
		"requestId":   r.Header.Get("X-Request-ID"),
		"contentType": r.Header.Get("Content-Type"),
		"bodyBytes":   n,
	})
}

// authenticate checks the bearer token and writes a 401 when it does not
// hold. Forced failures apply here and only here.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (accessClaims, bool) {
	if s.faults.force401.Load() > 0 && s.faults.force401.Add(-1) >= 0 {
		writeError(w, http.StatusUnauthorized, "token expired")
		return accessClaims{}, false
	}
	claims, err := s.checkBearer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return accessClaims{}, false
	}
	return claims, true
}

func (s *Server) checkBearer(r *http.Request) (accessClaims, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return accessClaims{}, errMissingBearer
	}
	claims, err := s.tokens.parse(raw)
	if err != nil {
		return accessClaims{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if claims.Generation != s.gen {
		return accessClaims{}, errStaleToken
	}
	if _, ok := s.sessions[claims.SessionID]; !ok {
		return accessClaims{}, errNoSession
	}
	return claims, nil
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
