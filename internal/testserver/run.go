package testserver

import (
	"context"
	"net"
	"net/http"
	"time"
)

// RunOptions configures Run.
type RunOptions struct {
	Bind         string
	Demo         bool
	DemoInterval time.Duration
}

// Run starts the hub, the optional demo emitter and the HTTP server. It
// blocks until ctx is cancelled or the server returns an error.
func (s *Server) Run(ctx context.Context, opts RunOptions) error {
	bind := opts.Bind
	if bind == "" {
		bind = "127.0.0.1:8080"
	}

	server := &http.Server{
		Addr:              bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	s.log.Info().Str("bind", "http://"+ln.Addr().String()).Msg("listening")

	go s.hub.Run(ctx)

	if opts.Demo {
		d := NewDemo(s.hub, s.log)
		if opts.DemoInterval > 0 {
			d.Interval = opts.DemoInterval
		}
		go d.Run(ctx)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutdown requested")
		// Streams end once the hub drops them; Shutdown waits for that.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.Serve(ln)
}
