// Package log builds the process slog.Logger and the raw HID traffic
// logger.
//
// Without a log file, non-error records go to stdout and errors to stderr,
// so stderr redirection isolates failures while normal output stays on
// stdout.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LevelTrace is a custom slog level below Debug used for per-report noise
// (stale acks, dropped reports, raw dumps).
const LevelTrace slog.Level = -8

// ParseLevel maps a config string to a slog level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanoutHandler delivers each record to every child whose level range
// admits it.
type fanoutHandler struct {
	children []boundedHandler
}

// boundedHandler wraps a handler with an inclusive level window.
type boundedHandler struct {
	min, max slog.Level
	h        slog.Handler
}

func (b boundedHandler) admits(l slog.Level) bool { return l >= b.min && l <= b.max }

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, c := range f.children {
		if c.admits(level) && c.h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, c := range f.children {
		if c.admits(r.Level) && c.h.Enabled(ctx, r.Level) {
			_ = c.h.Handle(ctx, r)
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]boundedHandler, len(f.children))
	for i, c := range f.children {
		out[i] = boundedHandler{min: c.min, max: c.max, h: c.h.WithAttrs(attrs)}
	}
	return fanoutHandler{children: out}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make([]boundedHandler, len(f.children))
	for i, c := range f.children {
		out[i] = boundedHandler{min: c.min, max: c.max, h: c.h.WithGroup(name)}
	}
	return fanoutHandler{children: out}
}

const maxLevel = slog.Level(1 << 30)

// Setup builds the process logger. With logFile empty the stdout/stderr
// split described in the package doc applies; otherwise everything also
// goes to the file and the console falls back to stderr only.
func Setup(logLevel, logFile string) (*slog.Logger, []io.Closer, error) {
	level := ParseLevel(logLevel)
	var children []boundedHandler

	if logFile == "" {
		children = append(children, boundedHandler{
			min: level, max: slog.LevelError - 1,
			h: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
		})
		children = append(children, boundedHandler{
			min: slog.LevelError, max: maxLevel,
			h: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}),
		})
		return slog.New(fanoutHandler{children: children}), nil, nil
	}

	children = append(children, boundedHandler{
		min: level, max: maxLevel,
		h: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	})
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	children = append(children, boundedHandler{
		min: level, max: maxLevel,
		h: slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}),
	})
	return slog.New(fanoutHandler{children: children}), []io.Closer{f}, nil
}
