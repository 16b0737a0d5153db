package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/large-farva/tether/internal/apiclient"
	"github.com/large-farva/tether/internal/notify"
	"github.com/large-farva/tether/internal/session"
	"github.com/large-farva/tether/internal/stream"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // categories to show (empty = all)
	// Count > 0 stops after that many events.
	Count int
}

var errCountReached = errors.New("event count reached")

// Watch logs in, opens the notification stream and renders events until ctx
// is cancelled, the session is lost, or the stream gives up.
func Watch(ctx context.Context, env Env, opts WatchOptions) error {
	if err := env.checkCredentials(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p := newPrinter(env.out())
	sess, err := env.newSession(func(o *session.Options) {
		o.OnExpired = func() { cancel(apiclient.ErrAuthExpired) }
		o.Stream.Observer = func(tr stream.Transition) {
			if !env.JSON {
				renderTransition(p, tr)
			}
			if tr.To == stream.Failed {
				cancel(tr.Err)
			}
		}
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	var seen atomic.Int32
	recent := notify.NewBuffer(notify.DefaultCapacity)
	render := notify.SinkFunc(func(ev stream.Event) {
		if env.JSON {
			p.println(string(ev.Payload))
		} else {
			renderEvent(p, ev)
		}
		if opts.Count > 0 && int(seen.Add(1)) >= opts.Count {
			cancel(errCountReached)
		}
	})
	sess.Subscribe(notify.Filter(notify.Tee(recent, render), opts.Filter...))

	if !env.JSON {
		p.println("")
		p.printf("  %s %s\n", p.colorize(dim, "watching"), p.colorize(dim, sess.Stream().URL()))
		if len(opts.Filter) > 0 {
			p.printf("  %s %s\n", p.colorize(dim, "filter:"), p.colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		p.println(p.colorize(dim, "  "+strings.Repeat("─", 50)))
		p.println("")
	}

	if err := sess.Login(ctx, env.Username, env.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	<-ctx.Done()
	if !env.JSON {
		p.println("")
		p.println(p.colorize(dim, "  disconnecting..."))
	}
	_ = sess.Logout(context.WithoutCancel(ctx))
	if !env.JSON {
		renderSummary(p, recent)
	}

	switch cause := context.Cause(ctx); {
	case errors.Is(cause, context.Canceled), errors.Is(cause, errCountReached):
		return nil
	default:
		return cause
	}
}

// renderEvent prints one notification. Title and body are shown when the
// payload has them; anything else is dumped so nothing is lost.
func renderEvent(p *printer, ev stream.Event) {
	var body map[string]any
	_ = json.Unmarshal(ev.Payload, &body)
	ts := ev.ReceivedAt.Local().Format("15:04:05")

	title, _ := body["title"].(string)
	text, _ := body["body"].(string)
	if title == "" && text == "" {
		p.printf("  %s %s  %s\n",
			p.colorize(dim, ts),
			p.colorize(categoryColor(ev.Category), padRight(ev.Category, 12)),
			string(ev.Payload))
		return
	}
	p.printf("  %s %s  %s  %s\n",
		p.colorize(dim, ts),
		p.colorize(categoryColor(ev.Category), padRight(ev.Category, 12)),
		p.colorize(bold, title),
		text)
}

// renderSummary prints how many events were shown, per category.
func renderSummary(p *printer, b *notify.Buffer) {
	counts := b.Counts()
	if len(counts) == 0 {
		p.println(p.colorize(dim, "  no events received"))
		return
	}
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	parts := make([]string, 0, len(cats))
	for _, c := range cats {
		parts = append(parts, fmt.Sprintf("%s %d", p.colorize(categoryColor(c), c), counts[c]))
	}
	p.printf("  %s %d events  %s\n", p.colorize(dim, "received"), b.Total(), strings.Join(parts, ", "))
}

func renderTransition(p *printer, tr stream.Transition) {
	ts := tr.At.Local().Format("15:04:05")
	line := fmt.Sprintf("  %s %s  %s %s %s",
		p.colorize(dim, ts),
		p.colorize(bold, "STREAM"),
		p.colorize(stateColor(tr.From), tr.From.String()),
		p.colorize(dim, "->"),
		p.colorize(stateColor(tr.To), tr.To.String()),
	)
	if tr.To == stream.Reconnecting {
		line += p.colorize(dim, fmt.Sprintf("  attempt %d in %s", tr.Attempt, formatDuration(tr.Delay.Round(time.Millisecond))))
	}
	if tr.Err != nil && (tr.To == stream.Reconnecting || tr.To == stream.Failed) {
		line += "  " + p.colorize(red, tr.Err.Error())
	}
	p.println(line)
}
