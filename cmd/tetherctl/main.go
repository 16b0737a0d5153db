// Tetherctl is the command-line client for a tether backend. It logs in,
// issues authenticated API calls and follows the live notification stream,
// recovering from expired tokens and dropped connections on the way.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/large-farva/tether/internal/config"
	"github.com/large-farva/tether/internal/ctl"
	"github.com/large-farva/tether/internal/log"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config TOML (defaults apply when omitted)")
		host       = pflag.StringP("host", "H", "", "Backend base URL, overrides api.base_url")
		user       = pflag.StringP("user", "u", os.Getenv("TETHER_USER"), "Username (or TETHER_USER)")
		password   = pflag.StringP("password", "p", os.Getenv("TETHER_PASSWORD"), "Password (or TETHER_PASSWORD)")
		transport  = pflag.String("transport", "", "Stream transport: sse or websocket")
		logLevel   = pflag.String("log-level", "", "Log level for diagnostics on stderr")
		jsonOut    = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter     = pflag.StringSlice("filter", nil, "Categories to show in watch (e.g. --filter contract,customer)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --count are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.API.BaseURL = *host
	}
	if *transport != "" {
		cfg.Stream.Transport = *transport
		if *transport == config.TransportWebSocket && cfg.Stream.Path == config.Default().Stream.Path {
			cfg.Stream.Path = "/notifications/ws"
		}
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	level := cfg.Logging.Level
	if *logLevel == "" {
		// CLI output is the product; keep diagnostics quiet unless asked.
		level = "warn"
	}
	log.Configure(log.Config{Level: level, Output: os.Stderr, Service: "tetherctl", Console: true})

	env := ctl.Env{
		Config:   cfg,
		Username: *user,
		Password: *password,
		JSON:     *jsonOut,
		Out:      os.Stdout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	switch cmd {
	case "health":
		err = ctl.Health(ctx, env)

	case "version":
		err = ctl.VersionInfo(ctx, env)

	case "login":
		err = ctl.Login(ctx, env)

	case "get":
		if len(subArgs) != 1 {
			usage()
			os.Exit(2)
		}
		err = ctl.Get(ctx, env, subArgs[0])

	case "post":
		if len(subArgs) != 2 {
			usage()
			os.Exit(2)
		}
		err = ctl.Post(ctx, env, subArgs[0], subArgs[1])

	case "watch":
		opts := ctl.WatchOptions{Filter: *filter}
		watchFlags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		watchFlags.IntVar(&opts.Count, "count", 0, "Stop after N events")
		_ = watchFlags.Parse(subArgs)
		err = ctl.Watch(ctx, env, opts)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func usage() {
	fmt.Print(`
  tetherctl: tether command-line client

  USAGE
    tetherctl [flags] <command> [args] [command-flags]

  COMMANDS
    health              Check that the backend is reachable
    version             Show CLI and backend version information
    login               Log in and show the session's device and expiry
    get PATH            Authenticated GET, prints the response body
    post PATH JSON      Authenticated POST with a JSON body
    watch               Follow live notifications (Ctrl-C to stop)

  GLOBAL FLAGS
    -c, --config FILE       Config TOML ([api], [stream], [logging])
    -H, --host URL          Backend base URL (default: http://127.0.0.1:8080)
    -u, --user NAME         Username (or TETHER_USER)
    -p, --password PASS     Password (or TETHER_PASSWORD)
        --transport T       Stream transport: sse (default) or websocket
        --log-level LEVEL   Diagnostics on stderr (debug, info, warn)
        --json              Output raw JSON instead of formatted text
        --filter CATS       Categories to show in watch (comma-separated)

  COMMAND FLAGS
    watch:
        --count N           Stop after N events

  EXAMPLES
    tetherctl health
    tetherctl -u agent -p secret login
    tetherctl -u agent -p secret get /api/contracts
    tetherctl -u agent -p secret post /api/contracts '{"name":"Lease 12"}'
    tetherctl -u agent -p secret --filter contract,customer watch
    tetherctl --transport websocket -u agent -p secret watch --count 5

`)
}
