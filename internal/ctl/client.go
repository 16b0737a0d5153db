// Package ctl implements the commands of tetherctl. Every command that
// touches the API logs in first; nothing is persisted between invocations.
package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/large-farva/tether/internal/apiclient"
	"github.com/large-farva/tether/internal/config"
	"github.com/large-farva/tether/internal/session"
)

// Env is what every command needs from the command line.
type Env struct {
	Config   config.Config
	Username string
	Password string
	JSON     bool
	Out      io.Writer
}

func (e Env) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

func (e Env) checkCredentials() error {
	if e.Username == "" || e.Password == "" {
		return errors.New("username and password are required (--user/--password or TETHER_USER/TETHER_PASSWORD)")
	}
	return nil
}

// newSession builds a session for cfg without logging in.
func (e Env) newSession(mutate func(*session.Options)) (*session.Session, error) {
	opts, err := session.FromConfig(e.Config)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&opts)
	}
	return session.New(opts), nil
}

// apiClient logs in on a bare pipeline, without starting the stream.
func (e Env) apiClient(ctx context.Context) (*apiclient.Client, error) {
	if err := e.checkCredentials(); err != nil {
		return nil, err
	}
	opts, err := session.FromConfig(e.Config)
	if err != nil {
		return nil, err
	}
	c := apiclient.New(opts.API)
	if err := c.Login(ctx, e.Username, e.Password); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return c, nil
}

// printer serializes writes from the stream reader and the state observer.
type printer struct {
	mu  sync.Mutex
	w   io.Writer
	tty bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, tty: colorEnabled(w)}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) println(s string) {
	p.printf("%s\n", s)
}

func (p *printer) colorize(color, text string) string {
	if !p.tty {
		return text
	}
	return color + text + reset
}

// printJSON prints v as indented JSON.
func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
