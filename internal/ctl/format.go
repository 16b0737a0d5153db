package ctl

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/large-farva/tether/internal/stream"
)

// ANSI escape codes for terminal formatting.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
	white  = "\033[37m"
)

// colorEnabled reports whether w is a terminal. When output is piped,
// redirected or buffered, ANSI escape codes are suppressed.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// stateColor returns the ANSI color code appropriate for a stream state.
func stateColor(s stream.State) string {
	switch s {
	case stream.Open:
		return green
	case stream.Connecting:
		return cyan
	case stream.Reconnecting:
		return yellow
	case stream.Failed:
		return red
	case stream.Idle, stream.Closed:
		return dim
	default:
		return white
	}
}

// categoryColor keeps each category on a stable color.
func categoryColor(category string) string {
	palette := []string{blue, cyan, green, yellow}
	var h int
	for _, r := range category {
		h += int(r)
	}
	return palette[h%len(palette)]
}

// padRight pads s with spaces to reach the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration renders a time.Duration as a compact human string like
// "2h 14m 8s", "45s" or "250ms".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
