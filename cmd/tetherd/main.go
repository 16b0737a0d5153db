// Tetherd runs the development backend: credential endpoints, a
// bearer-protected echo API and SSE/WebSocket notification streams, with an
// optional demo emitter. Shutdown is handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/tether/internal/config"
	"github.com/large-farva/tether/internal/log"
	"github.com/large-farva/tether/internal/testserver"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/tether/tether.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address, overrides server.bind")
		demo       = pflag.Bool("demo", true, "Emit simulated notifications")
		interval   = pflag.Duration("demo-interval", 0, "Time between simulated notifications, overrides demo.interval")
		tokenTTL   = pflag.Duration("token-ttl", 0, "Access token lifetime, overrides server.token_ttl")
	)
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}
	if pflag.CommandLine.Changed("demo") {
		cfg.Demo.Enabled = *demo
	}
	if *interval > 0 {
		cfg.Demo.Interval = config.Duration{Duration: *interval}
	}
	if *tokenTTL > 0 {
		cfg.Server.TokenTTL = config.Duration{Duration: *tokenTTL}
	}

	log.Configure(log.Config{Level: cfg.Logging.Level, Service: "tetherd"})
	logger := log.WithComponent("tetherd")

	srv := testserver.New(testserver.Options{
		Secret:            cfg.Server.Secret,
		TokenTTL:          cfg.Server.TokenTTL.Duration,
		DeviceHeader:      cfg.API.DeviceHeader,
		AntiForgeryHeader: cfg.Stream.AntiForgeryHeader,
		Logger:            &logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx, testserver.RunOptions{
		Bind:         cfg.Server.Bind,
		Demo:         cfg.Demo.Enabled,
		DemoInterval: cfg.Demo.Interval.Duration,
	})
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("tetherd failed")
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
