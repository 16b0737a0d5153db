// Package apiclient is the authenticated request pipeline. Every outbound API
// call goes through Client.Do, which attaches the current bearer token and
// recovers from an expired token with one shared refresh and one retry.
package apiclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/large-farva/tether/internal/credential"
	"github.com/large-farva/tether/internal/httpx"
	"github.com/large-farva/tether/internal/log"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderDeviceID  = "X-Device-Id"

	defaultRefreshTimeout = 10 * time.Second
)

// Paths names the credential endpoints. They are never subject to the
// refresh-on-401 path.
type Paths struct {
	Login       string
	Refresh     string
	Logout      string
	AntiForgery string
}

// DefaultPaths returns the endpoint layout of the back-office API.
func DefaultPaths() Paths {
	return Paths{
		Login:       "/auth/login",
		Refresh:     "/auth/refresh",
		Logout:      "/auth/logout",
		AntiForgery: "/auth/antiforgery",
	}
}

// Options configures a Client. Store and BaseURL are required.
type Options struct {
	BaseURL    string
	Store      *credential.Store
	HTTPClient *http.Client
	Logger     *zerolog.Logger
	Paths      Paths

	// DeviceHeader carries the device id on refresh; defaults to X-Device-Id.
	DeviceHeader string
	// RefreshTimeout bounds the shared refresh call. A timeout counts as a
	// failed refresh.
	RefreshTimeout time.Duration
	// RefreshSkew > 0 refreshes ahead of time when the token's exp claim is
	// that close.
	RefreshSkew time.Duration

	// OnSessionExpired is called once per lost session. It must not block.
	OnSessionExpired func()
}

// Client is safe for concurrent use.
type Client struct {
	baseURL        string
	store          *credential.Store
	http           *http.Client
	log            zerolog.Logger
	paths          Paths
	deviceHeader   string
	refreshTimeout time.Duration
	refreshSkew    time.Duration
	onExpired      func()

	// flight coalesces refresh and anti-forgery fetches across callers.
	flight singleflight.Group
	now    func() time.Time
}

// New builds a Client. When no HTTP client is given, one with a cookie jar is
// created so refresh cookies issued at login are sent back on refresh.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpx.NewClient(0)
		hc.Jar = httpx.NewCookieJar()
	}
	logger := log.WithComponent("apiclient")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	paths := opts.Paths
	def := DefaultPaths()
	if paths.Login == "" {
		paths.Login = def.Login
	}
	if paths.Refresh == "" {
		paths.Refresh = def.Refresh
	}
	if paths.Logout == "" {
		paths.Logout = def.Logout
	}
	if paths.AntiForgery == "" {
		paths.AntiForgery = def.AntiForgery
	}
	deviceHeader := opts.DeviceHeader
	if deviceHeader == "" {
		deviceHeader = HeaderDeviceID
	}
	refreshTimeout := opts.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	store := opts.Store
	if store == nil {
		store = credential.NewStore()
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		store:          store,
		http:           hc,
		log:            logger,
		paths:          paths,
		deviceHeader:   deviceHeader,
		refreshTimeout: refreshTimeout,
		refreshSkew:    opts.RefreshSkew,
		onExpired:      opts.OnSessionExpired,
		now:            time.Now,
	}
}

// Store returns the credential store the client reads and mutates.
func (c *Client) Store() *credential.Store {
	return c.store
}

// BaseURL returns the normalized API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetSessionExpiredHandler replaces the session-expired callback.
func (c *Client) SetSessionExpiredHandler(fn func()) {
	c.onExpired = fn
}

// Do issues r with the current access token.
//
// Any response other than 401, and any transport failure, is returned to the
// caller untouched; the pipeline never retries network or server errors. A
// 401 triggers one shared refresh and exactly one retry. A 401 on the retry
// ends the session and returns ErrAuthExpired.
func (c *Client) Do(ctx context.Context, r *Request) (*http.Response, error) {
	body, contentType, err := r.payload()
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	logger := c.log.With().
		Str(log.FieldRequestID, requestID).
		Str(log.FieldMethod, r.Method).
		Str(log.FieldPath, r.Path).
		Logger()

	retried := false
	for {
		anonymous := c.isAnonymous(r.Path)
		cred := c.store.Get()
		if !anonymous && !cred.Authenticated() {
			requestsTotal.WithLabelValues(outcomeUnauthenticated).Inc()
			return nil, ErrUnauthenticated
		}

		if !anonymous && !retried && c.refreshSkew > 0 && cred.ExpiresWithin(c.now(), c.refreshSkew) {
			logger.Debug().Time("expires_at", cred.ExpiresAt).Msg("access token about to expire, refreshing early")
			tok, err := c.Refresh(ctx, cred.AccessToken)
			if err != nil {
				return nil, err
			}
			cred.AccessToken = tok
		}

		token := cred.AccessToken
		if anonymous {
			token = ""
		}
		req, err := c.newHTTPRequest(ctx, r, body, contentType, token, requestID)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			requestsTotal.WithLabelValues(outcomeNetwork).Inc()
			return nil, networkError(r.op(), err)
		}

		if resp.StatusCode != http.StatusUnauthorized || c.skipsRefresh(r.Path) {
			requestsTotal.WithLabelValues(outcomeFor(resp.StatusCode)).Inc()
			return resp, nil
		}
		drain(resp)

		if retried {
			requestsTotal.WithLabelValues(outcomeAuthExpired).Inc()
			logger.Warn().Msg("request rejected again after refresh, ending session")
			c.expire()
			return nil, &APIError{Sentinel: ErrAuthExpired, Operation: r.op(), Status: http.StatusUnauthorized}
		}

		logger.Debug().Msg("access token rejected, joining refresh")
		if _, err := c.Refresh(ctx, token); err != nil {
			return nil, err
		}
		retried = true
	}
}

// isAnonymous reports whether path issues credentials and so must be callable
// without an access token.
func (c *Client) isAnonymous(path string) bool {
	return samePath(path, c.paths.Login) || samePath(path, c.paths.Refresh)
}

// skipsRefresh reports whether a 401 on path is final. Credential endpoints
// never trigger a refresh of their own.
func (c *Client) skipsRefresh(path string) bool {
	return c.isAnonymous(path) || samePath(path, c.paths.Logout)
}

func samePath(a, b string) bool {
	if i := strings.IndexByte(a, '?'); i >= 0 {
		a = a[:i]
	}
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// expire clears the store and notifies the collaborator, but only from the
// caller that actually ended the session.
func (c *Client) expire() {
	if !c.store.Clear() {
		return
	}
	sessionExpiredTotal.Inc()
	c.log.Warn().Msg("session expired")
	if c.onExpired != nil {
		c.onExpired()
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
