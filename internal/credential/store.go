// Package credential holds the session's bearer token and identifiers. It is
// the single source of truth read by both the request pipeline and the stream
// manager, and it never performs I/O.
package credential

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is an immutable snapshot of the store. Empty strings mean the
// value is absent.
type Credential struct {
	AccessToken      string
	DeviceID         string
	AntiForgeryToken string

	// ExpiresAt is the token's exp claim when the token is a JWT, zero otherwise.
	ExpiresAt time.Time
	// Generation increases on every access-token mutation, including Clear.
	Generation uint64
	// AntiForgeryEpoch increases whenever the cached anti-forgery token is
	// dropped: on Login, Clear and ClearAntiForgery.
	AntiForgeryEpoch uint64
}

// Authenticated reports whether the snapshot carries an access token.
func (c Credential) Authenticated() bool {
	return c.AccessToken != ""
}

// ExpiresWithin reports whether a known expiry falls within d of now.
// Tokens without an exp claim never report as expiring.
func (c Credential) ExpiresWithin(now time.Time, d time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(c.ExpiresAt)
}

// Store is safe for concurrent use. Readers always see a whole snapshot.
type Store struct {
	mu  sync.RWMutex
	cur Credential
}

// NewStore returns an empty, unauthenticated store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current snapshot.
func (s *Store) Get() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Authenticated reports whether an access token is currently held.
func (s *Store) Authenticated() bool {
	return s.Get().Authenticated()
}

// Login installs a fresh session. The anti-forgery token from any previous
// session is discarded.
func (s *Store) Login(accessToken, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = Credential{
		AccessToken: accessToken,
		DeviceID:    deviceID,
		ExpiresAt:   expiry(accessToken),
		Generation:  s.cur.Generation + 1,

		AntiForgeryEpoch: s.cur.AntiForgeryEpoch + 1,
	}
}

// Set rotates the access token, keeping the device and anti-forgery tokens.
func (s *Store) Set(accessToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.AccessToken = accessToken
	s.cur.ExpiresAt = expiry(accessToken)
	s.cur.Generation++
}

// SetIf rotates the access token only if the store is still at generation
// gen and authenticated. A refresh that started before a Clear or Login
// therefore cannot bring the old session back.
func (s *Store) SetIf(gen uint64, accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Generation != gen || s.cur.AccessToken == "" {
		return false
	}
	s.cur.AccessToken = accessToken
	s.cur.ExpiresAt = expiry(accessToken)
	s.cur.Generation++
	return true
}

// SetAntiForgery caches the stream handshake token.
func (s *Store) SetAntiForgery(token string) {
	s.mu.Lock()
	s.cur.AntiForgeryToken = token
	s.mu.Unlock()
}

// SetAntiForgeryIf caches token only if nothing dropped the cache since
// epoch was read and the session is still authenticated.
func (s *Store) SetAntiForgeryIf(epoch uint64, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.AntiForgeryEpoch != epoch || s.cur.AccessToken == "" {
		return false
	}
	s.cur.AntiForgeryToken = token
	return true
}

// ClearAntiForgery drops the cached handshake token so the next stream
// attempt fetches a new one.
func (s *Store) ClearAntiForgery() {
	s.mu.Lock()
	s.cur.AntiForgeryToken = ""
	s.cur.AntiForgeryEpoch++
	s.mu.Unlock()
}

// Clear wipes the session. It reports true only for the call that moved the
// store from authenticated to unauthenticated, so exactly one caller signals
// session expiry when several observe the failure at once.
func (s *Store) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.cur.AccessToken != ""
	s.cur = Credential{
		Generation:       s.cur.Generation + 1,
		AntiForgeryEpoch: s.cur.AntiForgeryEpoch + 1,
	}
	return was
}

// expiry extracts the exp claim without verifying the signature; the client
// never holds the signing key and only uses this to refresh early.
func expiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
