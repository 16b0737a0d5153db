package testserver

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/large-farva/tether/internal/log"
)

// NewTest starts a Server on a loopback httptest listener with its hub
// running. Both are stopped when the test ends.
func NewTest(t testing.TB, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Logger == nil {
		nop := log.Nop()
		opts.Logger = &nop
	}
	s := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	// Registered last so it runs first: streams must end before Close waits
	// on them.
	t.Cleanup(func() {
		cancel()
		<-s.hub.stopped
	})
	return s, srv
}
