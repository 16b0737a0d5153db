package ctl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/large-farva/tether/internal/httpx"
)

// Health checks backend liveness via GET /healthz. It needs no credentials.
func Health(ctx context.Context, env Env) error {
	baseURL := strings.TrimRight(env.Config.API.BaseURL, "/")
	w := env.out()
	p := newPrinter(w)

	status, err := probe(ctx, baseURL+"/healthz")
	if err != nil {
		if env.JSON {
			return printJSON(w, map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	healthy := status == http.StatusOK

	if env.JSON {
		return printJSON(w, map[string]any{"healthy": healthy, "url": baseURL})
	}

	p.println("")
	if healthy {
		p.printf("  %s  backend is reachable at %s\n", p.colorize(green, "HEALTHY"), p.colorize(dim, baseURL))
	} else {
		p.printf("  %s  backend returned HTTP %d at %s\n", p.colorize(red, "UNHEALTHY"), status, p.colorize(dim, baseURL))
	}
	p.println("")
	return nil
}

func probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := httpx.NewClient(5 * time.Second).Do(req)
	if err != nil {
		return 0, fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
