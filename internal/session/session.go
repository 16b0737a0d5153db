// Package session wires one credential store, one request pipeline and one
// stream manager into a login-scoped unit. Logging in (re)starts the stream;
// logging out or losing the session stops it.
package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/large-farva/tether/internal/apiclient"
	"github.com/large-farva/tether/internal/config"
	"github.com/large-farva/tether/internal/credential"
	"github.com/large-farva/tether/internal/httpx"
	"github.com/large-farva/tether/internal/log"
	"github.com/large-farva/tether/internal/stream"
)

// Options configures a Session. API.Store, API.OnSessionExpired and the
// stream's credential, anti-forgery and refresh collaborators are filled in
// by New.
type Options struct {
	API    apiclient.Options
	Stream stream.Options

	// OnExpired is called once per session lost to a failed refresh or a
	// rejected retry. It is not called on Logout. It must not block.
	OnExpired func()
	Logger    *zerolog.Logger
}

// Session is safe for concurrent use.
type Session struct {
	store  *credential.Store
	api    *apiclient.Client
	stream *stream.Manager
	log    zerolog.Logger

	onExpired func()
}

func New(opts Options) *Session {
	logger := log.WithComponent("session")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	s := &Session{
		store:     opts.API.Store,
		log:       logger,
		onExpired: opts.OnExpired,
	}
	if s.store == nil {
		s.store = credential.NewStore()
	}

	apiOpts := opts.API
	apiOpts.Store = s.store
	apiOpts.OnSessionExpired = s.expired
	s.api = apiclient.New(apiOpts)

	streamOpts := opts.Stream
	streamOpts.Credentials = s.store
	streamOpts.AntiForgery = s.api
	streamOpts.Refresher = s.api
	if streamOpts.DeviceHeader == "" {
		streamOpts.DeviceHeader = apiOpts.DeviceHeader
	}
	s.stream = stream.New(streamOpts)
	return s
}

// FromConfig builds Session options from a loaded configuration.
func FromConfig(cfg config.Config) (Options, error) {
	streamURL, err := cfg.StreamURL()
	if err != nil {
		return Options{}, fmt.Errorf("stream url: %w", err)
	}

	var dialer stream.Dialer
	switch cfg.Stream.Transport {
	case config.TransportWebSocket:
		dialer = stream.NewWebSocketDialer()
	default:
		dialer = stream.NewSSEDialer()
	}

	return Options{
		API: apiclient.Options{
			BaseURL:        cfg.API.BaseURL,
			HTTPClient:     newJarClient(cfg),
			DeviceHeader:   cfg.API.DeviceHeader,
			RefreshTimeout: cfg.API.RefreshTimeout.Duration,
			RefreshSkew:    cfg.API.RefreshSkew.Duration,
			Paths: apiclient.Paths{
				Login:       cfg.API.LoginPath,
				Refresh:     cfg.API.RefreshPath,
				Logout:      cfg.API.LogoutPath,
				AntiForgery: cfg.API.AntiForgery,
			},
		},
		Stream: stream.Options{
			URL:               streamURL,
			Dialer:            dialer,
			AntiForgeryHeader: cfg.Stream.AntiForgeryHeader,
			DeviceHeader:      cfg.API.DeviceHeader,
			MaxAttempts:       cfg.Stream.MaxAttempts,
			BaseDelay:         cfg.Stream.BaseDelay.Duration,
			MaxDelay:          cfg.Stream.MaxDelay.Duration,
			IdleTimeout:       cfg.Stream.IdleTimeout.Duration,
		},
	}, nil
}

func newJarClient(cfg config.Config) *http.Client {
	c := httpx.NewClient(cfg.API.Timeout.Duration)
	c.Jar = httpx.NewCookieJar()
	return c
}

func (s *Session) Store() *credential.Store { return s.store }

func (s *Session) API() *apiclient.Client { return s.api }

func (s *Session) Stream() *stream.Manager { return s.stream }

// Subscribe registers a sink on the stream.
func (s *Session) Subscribe(sink stream.Sink) (unsubscribe func()) {
	return s.stream.Subscribe(sink)
}

// Login authenticates and restarts the stream under the new credentials.
// The stream is started even if an earlier one had failed.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if err := s.api.Login(ctx, username, password); err != nil {
		return err
	}
	if err := s.stream.Reconnect(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	return nil
}

// Logout stops the stream first so no handshake races the server-side
// logout, then ends the session.
func (s *Session) Logout(ctx context.Context) error {
	s.stream.Disconnect()
	return s.api.Logout(ctx)
}

// Close stops the stream and waits for its goroutine. The credentials are
// left in place.
func (s *Session) Close() {
	s.stream.Close()
}

// expired runs once per lost session, from whichever goroutine observed the
// loss.
func (s *Session) expired() {
	s.stream.Disconnect()
	s.log.Warn().Msg("session expired, stream stopped")
	if s.onExpired != nil {
		s.onExpired()
	}
}
