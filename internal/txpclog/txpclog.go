// Package txpclog centralizes the charmbracelet/log configuration used
// by the router daemon. The relay, router and eventloop packages import
// charmbracelet/log themselves and take a *log.Logger; cmd/txpcd builds
// the ones it passes them here.
package txpclog

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// Options configures the root logger.
type Options struct {
	Level           log.Level
	TimeFormat      string
	ReportCaller    bool
	ReportTimestamp bool
}

// DefaultOptions matches the router daemon's default CLI flags.
func DefaultOptions() Options {
	return Options{
		Level:           log.InfoLevel,
		TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
		ReportTimestamp: true,
	}
}

// New builds a root logger writing to w (os.Stderr in production, a
// buffer or io.Discard in tests).
func New(w io.Writer, opts Options) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{
		Level:           opts.Level,
		ReportCaller:    opts.ReportCaller,
		ReportTimestamp: opts.ReportTimestamp,
		TimeFormat:      opts.TimeFormat,
	})
	return logger
}

// Discard returns a logger that drops everything, for components that
// weren't given an explicit logger.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// ForComponent returns a child logger tagged with a "component" field,
// e.g. "router", "relay", "negotiation".
func ForComponent(parent *log.Logger, name string) *log.Logger {
	if parent == nil {
		parent = Discard()
	}
	return parent.With("component", name)
}

// FormatTimestamp renders unixNano (in local time) using a strftime
// pattern instead of the Go reference-time layout, for operators used to
// %Y-%m-%d-style patterns. The router daemon's --log-time-format flag
// takes a Go layout and does not go through this function.
func FormatTimestamp(pattern string, unixNano int64) (string, error) {
	f, err := strftime.New(pattern)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := f.Format(&sb, time.Unix(0, unixNano)); err != nil {
		return "", err
	}
	return sb.String(), nil
}
