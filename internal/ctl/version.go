package ctl

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/large-farva/tether/internal/httpx"
)

// Build-time variables set via -ldflags. For example:
//
//	go build -ldflags "-X github.com/large-farva/tether/internal/ctl.Version=v1.0.0"
var (
	Version = "dev"
	BuiltAt = "unknown"
)

// VersionInfo prints the CLI version and, when reachable, the backend's.
func VersionInfo(ctx context.Context, env Env) error {
	w := env.out()
	backend := backendVersion(ctx, env.Config.API.BaseURL)

	if env.JSON {
		return printJSON(w, map[string]any{
			"cli":     map[string]any{"version": Version, "go_version": runtime.Version(), "built_at": BuiltAt},
			"backend": backend,
		})
	}

	p := newPrinter(w)
	p.println("")
	p.printf("  %-10s %s %s\n", p.colorize(dim, "tetherctl"), Version, p.colorize(dim, "("+runtime.Version()+")"))
	if backend != "" {
		p.printf("  %-10s %s\n", p.colorize(dim, "backend"), backend)
	} else {
		p.printf("  %-10s %s\n", p.colorize(dim, "backend"), p.colorize(yellow, "unknown"))
	}
	p.println("")
	return nil
}

// backendVersion reads the unauthenticated /version endpoint. An unreachable
// backend yields "".
func backendVersion(ctx context.Context, baseURL string) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/version", nil)
	if err != nil {
		return ""
	}
	resp, err := httpx.NewClient(3 * time.Second).Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	var body struct {
		Version string `json:"version"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&body) != nil {
		return ""
	}
	return body.Version
}
