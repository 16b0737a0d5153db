// Package stream supervises the long-lived server-push connection. A Manager
// keeps at most one connection attempt alive, reconnects with capped
// exponential backoff, and hands decoded events to subscribers in wire order.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/large-farva/tether/internal/credential"
	"github.com/large-farva/tether/internal/log"
)

const (
	DefaultMaxAttempts       = 5
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultAntiForgeryHeader = "X-XSRF-TOKEN"
	DefaultDeviceHeader      = "X-Device-Id"
)

// CredentialSource is read before every attempt. *credential.Store satisfies it.
type CredentialSource interface {
	Get() credential.Credential
}

// AntiForgerySource hands out the cached handshake token.
type AntiForgerySource interface {
	AntiForgeryToken(ctx context.Context) (string, error)
	InvalidateAntiForgery()
}

// Refresher renews an access token rejected by the handshake.
type Refresher interface {
	Refresh(ctx context.Context, stale string) (string, error)
}

// Options configures a Manager. URL and Credentials are required.
type Options struct {
	URL         string
	Dialer      Dialer // defaults to SSE
	Credentials CredentialSource
	AntiForgery AntiForgerySource
	Refresher   Refresher

	AntiForgeryHeader string
	DeviceHeader      string

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// IdleTimeout > 0 drops a connection that sees no frame or keepalive for
	// that long.
	IdleTimeout time.Duration

	Logger *zerolog.Logger
	// Observer sees every transition, in order, while the manager's lock is
	// held. It must not call back into the Manager synchronously.
	Observer func(Transition)
}

// Manager is safe for concurrent use.
type Manager struct {
	url         string
	dialer      Dialer
	creds       CredentialSource
	antiForgery AntiForgerySource
	refresher   Refresher
	afHeader    string
	devHeader   string
	backoff     Backoff
	maxAttempts int
	idle        time.Duration
	log         zerolog.Logger
	observer    func(Transition)

	mu      sync.Mutex
	state   State
	attempt int
	lastErr error
	// epoch identifies the current attempt; anything holding an older epoch
	// (timer callbacks, reader goroutines) is stale and must not act.
	epoch  uint64
	cancel context.CancelCauseFunc
	timer  *time.Timer
	done   chan struct{} // closed when the latest attempt goroutine exits

	// live is the epoch allowed to deliver events, 0 when none is.
	live atomic.Uint64

	subMu   sync.RWMutex
	subs    []subscription
	nextSub int
}

type subscription struct {
	id   int
	sink Sink
}

// New builds an idle Manager.
func New(opts Options) *Manager {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = NewSSEDialer()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	afHeader := opts.AntiForgeryHeader
	if afHeader == "" {
		afHeader = DefaultAntiForgeryHeader
	}
	devHeader := opts.DeviceHeader
	if devHeader == "" {
		devHeader = DefaultDeviceHeader
	}
	logger := log.WithComponent("stream")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Manager{
		url:         opts.URL,
		dialer:      dialer,
		creds:       opts.Credentials,
		antiForgery: opts.AntiForgery,
		refresher:   opts.Refresher,
		afHeader:    afHeader,
		devHeader:   devHeader,
		backoff:     Backoff{Base: base, Max: maxDelay},
		maxAttempts: maxAttempts,
		idle:        opts.IdleTimeout,
		log:         logger.With().Str(log.FieldURL, opts.URL).Logger(),
		observer:    opts.Observer,
		state:       Idle,
	}
}

// URL is the stream endpoint.
func (m *Manager) URL() string { return m.url }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the reconnect attempt counter.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// LastError returns the error behind the latest failure, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Subscribe registers a sink. Sinks are called in registration order for
// every event. The returned function unsubscribes and is idempotent.
func (m *Manager) Subscribe(s Sink) (unsubscribe func()) {
	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscription{id: id, sink: s})
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			for i, sub := range m.subs {
				if sub.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect starts the stream. It is a no-op while an attempt is connecting,
// open, or waiting to reconnect.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Connecting, Open, Reconnecting:
		return nil
	case Idle, Failed, Closed:
	}
	if !m.creds.Get().Authenticated() {
		m.lastErr = ErrUnauthenticated
		return ErrUnauthenticated
	}
	m.attempt = 0
	m.startLocked()
	return nil
}

// Reconnect tears down any connection or pending timer, drops the cached
// anti-forgery token, resets the attempt counter and starts over. Use it after
// re-authenticating.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()
	if m.antiForgery != nil {
		m.antiForgery.InvalidateAntiForgery()
	}
	m.attempt = 0
	if !m.creds.Get().Authenticated() {
		m.lastErr = ErrUnauthenticated
		m.transitionLocked(Failed, ErrUnauthenticated, 0)
		return ErrUnauthenticated
	}
	m.startLocked()
	return nil
}

// Disconnect cancels any attempt and pending timer and moves to Closed. It is
// safe from any state, including from inside a sink, and so does not wait for
// the reader: an event that passed its liveness check before the teardown may
// still reach the sink it was being handed to. No other delivery follows.
// Close additionally waits for that sink call to return.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Closed {
		return
	}
	m.teardownLocked()
	if m.antiForgery != nil {
		m.antiForgery.InvalidateAntiForgery()
	}
	m.attempt = 0
	m.transitionLocked(Closed, nil, 0)
}

// Close disconnects and waits for the attempt goroutine to exit. Once it
// returns no sink is running or will run. Sinks must not call Close.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Manager) teardownLocked() {
	m.epoch++
	m.live.Store(0)
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel(errStopped)
		m.cancel = nil
	}
}

// startLocked launches attempt epoch+1. The new goroutine waits for the
// previous one to finish tearing down before it dials.
func (m *Manager) startLocked() {
	m.epoch++
	epoch := m.epoch
	ctx, cancel := context.WithCancelCause(context.Background())
	m.cancel = cancel
	prev := m.done
	done := make(chan struct{})
	m.done = done
	m.transitionLocked(Connecting, nil, 0)
	go m.run(ctx, epoch, prev, done)
}

func (m *Manager) transitionLocked(to State, err error, delay time.Duration) {
	from := m.state
	m.state = to
	transitionsTotal.WithLabelValues(to.String()).Inc()

	ev := m.log.Info()
	if to == Reconnecting || to == Failed {
		ev = m.log.Warn().Err(err)
	}
	ev.Str(log.FieldOldState, from.String()).
		Str(log.FieldNewState, to.String()).
		Int(log.FieldAttempt, m.attempt).
		Dur(log.FieldDelay, delay).
		Msg("stream state change")

	if m.observer != nil {
		m.observer(Transition{From: from, To: to, Attempt: m.attempt, Delay: delay, Err: err, At: time.Now()})
	}
}

func (m *Manager) run(ctx context.Context, epoch uint64, prev, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	err := m.connectOnce(ctx, epoch)
	if errors.Is(context.Cause(ctx), errStopped) {
		return
	}
	m.fail(epoch, err)
}

// connectOnce performs one handshake and reads until the connection ends. It
// always returns a non-nil error describing why.
func (m *Manager) connectOnce(parent context.Context, epoch uint64) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	cred := m.creds.Get()
	if !cred.Authenticated() {
		return ErrUnauthenticated
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+cred.AccessToken)
	if cred.DeviceID != "" {
		hdr.Set(m.devHeader, cred.DeviceID)
	}
	if m.antiForgery != nil {
		tok, err := m.antiForgery.AntiForgeryToken(ctx)
		if err != nil {
			return fmt.Errorf("anti-forgery token: %w", err)
		}
		hdr.Set(m.afHeader, tok)
	}

	touch := func() {}
	if m.idle > 0 {
		wd := time.AfterFunc(m.idle, func() { cancel(ErrIdleTimeout) })
		defer wd.Stop()
		touch = func() { wd.Reset(m.idle) }
	}

	conn, err := m.dialer.Dial(ctx, Handshake{URL: m.url, Header: hdr, Keepalive: touch})
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		var hsErr *HandshakeError
		if errors.As(err, &hsErr) && hsErr.Status == http.StatusUnauthorized && m.refresher != nil {
			if _, rerr := m.refresher.Refresh(ctx, cred.AccessToken); rerr != nil {
				m.log.Warn().Err(rerr).Msg("token refresh after rejected handshake failed")
			}
		}
		return err
	}
	defer conn.Close()

	if !m.opened(epoch) {
		return errStopped
	}

	for {
		f, err := conn.Next()
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return err
		}
		touch()
		m.dispatch(epoch, f)
	}
}

// opened moves a still-current attempt to Open.
func (m *Manager) opened(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.state != Connecting {
		return false
	}
	m.attempt = 0
	m.lastErr = nil
	m.live.Store(epoch)
	m.transitionLocked(Open, nil, 0)
	return true
}

// fail decides what follows a dead attempt: back off and retry, or give up.
func (m *Manager) fail(epoch uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.live.Store(0)
	if m.cancel != nil {
		m.cancel(errStopped)
		m.cancel = nil
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		m.lastErr = err
		m.transitionLocked(Failed, err, 0)

	case m.attempt >= m.maxAttempts:
		m.lastErr = fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, m.attempt, err)
		m.transitionLocked(Failed, m.lastErr, 0)

	default:
		m.lastErr = err
		m.attempt++
		delay := m.backoff.Delay(m.attempt)
		reconnectDelay.Observe(delay.Seconds())
		m.transitionLocked(Reconnecting, err, delay)
		m.timer = time.AfterFunc(delay, func() { m.retry(epoch) })
	}
}

// retry fires from the backoff timer. A timer from a superseded epoch is a
// no-op even if Stop lost the race with its firing.
func (m *Manager) retry(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.state != Reconnecting {
		return
	}
	m.timer = nil
	m.startLocked()
}

func (m *Manager) dispatch(epoch uint64, f Frame) {
	if m.live.Load() != epoch {
		framesTotal.WithLabelValues(frameStale).Inc()
		return
	}
	ev, err := parseEvent(f, time.Now())
	if err != nil {
		framesTotal.WithLabelValues(frameMalformed).Inc()
		m.log.Warn().Err(err).Int("bytes", len(f.Data)).Msg("dropping malformed frame")
		return
	}
	framesTotal.WithLabelValues(frameDelivered).Inc()

	m.subMu.RLock()
	subs := append([]subscription(nil), m.subs...)
	m.subMu.RUnlock()
	for _, s := range subs {
		if m.live.Load() != epoch {
			return
		}
		s.sink.Notify(ev)
	}
}
