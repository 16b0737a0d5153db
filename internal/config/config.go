// Package config handles loading, defaulting, and validation of the tether
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	API     APIConfig     `toml:"api"     json:"api"`
	Stream  StreamConfig  `toml:"stream"  json:"stream"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Server  ServerConfig  `toml:"server"  json:"server"`
	Demo    DemoConfig    `toml:"demo"    json:"demo"`
}

type APIConfig struct {
	BaseURL        string   `toml:"base_url"        json:"base_url"`
	Timeout        Duration `toml:"timeout"         json:"timeout"`
	RefreshTimeout Duration `toml:"refresh_timeout" json:"refresh_timeout"`
	RefreshSkew    Duration `toml:"refresh_skew"    json:"refresh_skew"`
	DeviceHeader   string   `toml:"device_header"   json:"device_header"`
	LoginPath      string   `toml:"login_path"      json:"login_path"`
	RefreshPath    string   `toml:"refresh_path"    json:"refresh_path"`
	LogoutPath     string   `toml:"logout_path"     json:"logout_path"`
	AntiForgery    string   `toml:"antiforgery_path" json:"antiforgery_path"`
}

type StreamConfig struct {
	Path              string   `toml:"path"               json:"path"`
	Transport         string   `toml:"transport"          json:"transport"`
	MaxAttempts       int      `toml:"max_attempts"       json:"max_attempts"`
	BaseDelay         Duration `toml:"base_delay"         json:"base_delay"`
	MaxDelay          Duration `toml:"max_delay"          json:"max_delay"`
	IdleTimeout       Duration `toml:"idle_timeout"       json:"idle_timeout"`
	AntiForgeryHeader string   `toml:"antiforgery_header" json:"antiforgery_header"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

// ServerConfig configures the fake backend run by tetherd.
type ServerConfig struct {
	Bind     string   `toml:"bind"      json:"bind"`
	Secret   string   `toml:"secret"    json:"-"`
	TokenTTL Duration `toml:"token_ttl" json:"token_ttl"`
}

type DemoConfig struct {
	Enabled  bool     `toml:"enabled"  json:"enabled"`
	Interval Duration `toml:"interval" json:"interval"`
}

// Transports accepted by stream.transport.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:        "http://127.0.0.1:8080",
			Timeout:        Duration{15 * time.Second},
			RefreshTimeout: Duration{10 * time.Second},
			DeviceHeader:   "X-Device-Id",
			LoginPath:      "/auth/login",
			RefreshPath:    "/auth/refresh",
			LogoutPath:     "/auth/logout",
			AntiForgery:    "/auth/antiforgery",
		},
		Stream: StreamConfig{
			Path:              "/notifications/stream",
			Transport:         TransportSSE,
			MaxAttempts:       5,
			BaseDelay:         Duration{time.Second},
			MaxDelay:          Duration{30 * time.Second},
			IdleTimeout:       Duration{45 * time.Second},
			AntiForgeryHeader: "X-XSRF-TOKEN",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind:     "127.0.0.1:8080",
			Secret:   "tether-dev-secret",
			TokenTTL: Duration{5 * time.Minute},
		},
		Demo: DemoConfig{
			Enabled:  true,
			Interval: Duration{2 * time.Second},
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults when the
// file does not exist.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// StreamURL joins the API base URL and the stream path.
func (c Config) StreamURL() (string, error) {
	base, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(c.Stream.Path)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url must not be empty")
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.Timeout.Duration < 0 {
		return errors.New("api.timeout must be >= 0")
	}
	if c.API.RefreshTimeout.Duration <= 0 {
		return errors.New("api.refresh_timeout must be > 0")
	}
	if c.API.RefreshSkew.Duration < 0 {
		return errors.New("api.refresh_skew must be >= 0")
	}
	if c.API.RefreshPath == "" || c.API.LoginPath == "" {
		return errors.New("api.login_path and api.refresh_path must not be empty")
	}
	switch c.Stream.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("stream.transport must be %q or %q, got %q", TransportSSE, TransportWebSocket, c.Stream.Transport)
	}
	if c.Stream.MaxAttempts < 1 {
		return errors.New("stream.max_attempts must be >= 1")
	}
	if c.Stream.BaseDelay.Duration <= 0 {
		return errors.New("stream.base_delay must be > 0")
	}
	if c.Stream.MaxDelay.Duration < c.Stream.BaseDelay.Duration {
		return errors.New("stream.max_delay must be >= stream.base_delay")
	}
	if c.Stream.IdleTimeout.Duration < 0 {
		return errors.New("stream.idle_timeout must be >= 0")
	}
	if c.Server.TokenTTL.Duration <= 0 {
		return errors.New("server.token_ttl must be > 0")
	}
	if c.Demo.Interval.Duration < 0 {
		return errors.New("demo.interval must be >= 0")
	}
	return nil
}
