package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/large-farva/tether/internal/apiclient"
)

// Login checks the credentials and shows what the session looks like.
func Login(ctx context.Context, env Env) error {
	c, err := env.apiClient(ctx)
	if err != nil {
		return err
	}
	cred := c.Store().Get()
	w := env.out()

	if env.JSON {
		out := map[string]any{"authenticated": true, "device_id": cred.DeviceID}
		if !cred.ExpiresAt.IsZero() {
			out["expires_at"] = cred.ExpiresAt.UTC().Format(time.RFC3339)
		}
		return printJSON(w, out)
	}

	p := newPrinter(w)
	p.println("")
	p.printf("  %s  logged in as %s\n", p.colorize(green, "OK"), env.Username)
	p.printf("    %-12s %s\n", p.colorize(dim, "Device:"), cred.DeviceID)
	if !cred.ExpiresAt.IsZero() {
		p.printf("    %-12s %s (in %s)\n", p.colorize(dim, "Expires:"),
			cred.ExpiresAt.Local().Format("15:04:05"), formatDuration(time.Until(cred.ExpiresAt).Round(time.Second)))
	}
	p.println("")
	return nil
}

// Get issues an authenticated GET and prints the response body.
func Get(ctx context.Context, env Env, path string) error {
	return send(ctx, env, &apiclient.Request{Method: http.MethodGet, Path: path})
}

// Post issues an authenticated POST with a JSON body and prints the
// response body.
func Post(ctx context.Context, env Env, path, body string) error {
	if !json.Valid([]byte(body)) {
		return fmt.Errorf("request body is not valid JSON")
	}
	return send(ctx, env, &apiclient.Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        []byte(body),
		ContentType: "application/json",
	})
}

func send(ctx context.Context, env Env, r *apiclient.Request) error {
	c, err := env.apiClient(ctx)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if cerr := apiclient.Classify(r.Method+" "+r.Path, resp); cerr != nil {
		return cerr
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	w := env.out()
	var pretty bytes.Buffer
	if json.Indent(&pretty, b, "", "  ") == nil {
		_, err = fmt.Fprintln(w, pretty.String())
		return err
	}
	_, err = w.Write(b)
	return err
}
