package testserver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Demo broadcasts simulated back-office notifications on a configurable
// interval so the client stack can be exercised without a real backend.
type Demo struct {
	Hub      *Hub
	Interval time.Duration
	Logger   zerolog.Logger

	index int
}

type demoScript struct {
	category string
	title    string
	body     func(n int) string
}

var demoScripts = []demoScript{
	{CategoryContract, "Contract signed", func(n int) string { return fmt.Sprintf("Lease #%d was countersigned", 1000+n) }},
	{CategoryCustomer, "New inquiry", func(n int) string { return fmt.Sprintf("Customer %d asked for a viewing", 200+n) }},
	{CategoryProperty, "Listing updated", func(n int) string { return fmt.Sprintf("Property P-%03d changed price", n%500) }},
	{CategoryAppointment, "Appointment reminder", func(n int) string {
		return fmt.Sprintf("Viewing in %d minutes", 15+rand.IntN(45))
	}},
}

// NewDemo creates a demo emitter with a sensible default interval.
func NewDemo(hub *Hub, logger zerolog.Logger) *Demo {
	return &Demo{
		Hub:      hub,
		Interval: 2 * time.Second,
		Logger:   logger,
	}
}

// Run emits one notification immediately, then repeats on the configured
// interval until ctx is cancelled.
func (d *Demo) Run(ctx context.Context) {
	d.Logger.Info().Dur("interval", d.Interval).Msg("demo mode active, simulating notifications")

	d.emit()

	t := time.NewTicker(d.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.emit()
		}
	}
}

// emit cycles through the demo scripts so consecutive notifications land in
// different categories.
func (d *Demo) emit() {
	s := demoScripts[d.index%len(demoScripts)]
	n := d.index
	d.index++

	d.Hub.BroadcastJSON(s.category, Notification{
		Category: s.category,
		ID:       uuid.NewString(),
		TS:       NowTS(),
		Title:    s.title,
		Body:     s.body(n),
		Ref:      fmt.Sprintf("%s/%d", s.category, n),
	})
}
