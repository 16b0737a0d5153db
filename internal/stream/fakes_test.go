package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/large-farva/tether/internal/credential"
	"github.com/large-farva/tether/internal/log"
)

// fakeConn is fed frames by the test; Next unblocks on ctx cancellation.
type fakeConn struct {
	ctx    context.Context
	frames chan Frame
	end    chan error
	closed atomic.Bool
	onEnd  func()
}

func (c *fakeConn) Next() (Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.end:
		return Frame{}, err
	case <-c.ctx.Done():
		return Frame{}, c.ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	if c.closed.CompareAndSwap(false, true) && c.onEnd != nil {
		c.onEnd()
	}
	return nil
}

// fakeDialer records every handshake and lets each test script the outcome
// of dial number n (starting at 1).
type fakeDialer struct {
	mu        sync.Mutex
	dials     int
	active    int
	maxActive int
	headers   []http.Header
	dialedAt  []time.Time
	conns     []*fakeConn

	script func(ctx context.Context, n int) error
}

func (d *fakeDialer) Dial(ctx context.Context, hs Handshake) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.headers = append(d.headers, hs.Header.Clone())
	d.dialedAt = append(d.dialedAt, time.Now())
	d.mu.Unlock()

	if d.script != nil {
		if err := d.script(ctx, n); err != nil {
			return nil, err
		}
	}

	c := &fakeConn{ctx: ctx, frames: make(chan Frame, 16), end: make(chan error, 1)}
	d.mu.Lock()
	d.active++
	if d.active > d.maxActive {
		d.maxActive = d.active
	}
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	c.onEnd = func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) header(i int) http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.headers[i]
}

var errRefused = errors.New("connection refused")

func alwaysFail(context.Context, int) error { return errRefused }

// recorder collects transitions from the Observer hook.
type recorder struct {
	mu sync.Mutex
	ts []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	r.ts = append(r.ts, t)
	r.mu.Unlock()
}

func (r *recorder) transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.ts...)
}

func (r *recorder) count(to State) int {
	n := 0
	for _, t := range r.transitions() {
		if t.To == to {
			n++
		}
	}
	return n
}

// collector is a Sink that records events.
type collector struct {
	mu  sync.Mutex
	evs []Event
}

func (c *collector) Notify(ev Event) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *collector) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.evs...)
}

// fakeAntiForgery counts fetches and invalidations.
type fakeAntiForgery struct {
	fetches       atomic.Int32
	invalidations atomic.Int32
}

func (f *fakeAntiForgery) AntiForgeryToken(context.Context) (string, error) {
	f.fetches.Add(1)
	return "xsrf", nil
}

func (f *fakeAntiForgery) InvalidateAntiForgery() {
	f.invalidations.Add(1)
}

// storeRefresher rotates the store like the request pipeline does.
type storeRefresher struct {
	store *credential.Store
	next  string
	calls atomic.Int32
	stale atomic.Value
}

func (r *storeRefresher) Refresh(_ context.Context, stale string) (string, error) {
	r.calls.Add(1)
	r.stale.Store(stale)
	r.store.Set(r.next)
	return r.next, nil
}

func newTestManager(t *testing.T, d Dialer, mutate func(*Options)) (*Manager, *credential.Store, *recorder) {
	t.Helper()
	store := credential.NewStore()
	store.Login("A", "dev-1")
	rec := &recorder{}
	nop := log.Nop()
	opts := Options{
		URL:         "http://backoffice.test/notifications/stream",
		Dialer:      d,
		Credentials: store,
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
		Logger:      &nop,
		Observer:    rec.observe,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m := New(opts)
	t.Cleanup(m.Close)
	return m, store, rec
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, 2*time.Millisecond,
		"state %s, want %s", m.State(), want)
}
