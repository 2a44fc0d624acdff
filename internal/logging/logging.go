// Package logging provides the slog setup shared by every package: component
// loggers created at package init that follow whatever Init configures later,
// and a level that can be changed while running.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeySlotID     = "slotId"
	KeyDevice     = "device"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

var (
	level  = new(slog.LevelVar)
	target atomic.Pointer[slog.Handler]
	root   = slog.New(&deferred{})
)

func init() {
	setOutput("text", os.Stderr)
	slog.SetDefault(root)
}

// deferred resolves the configured handler on every record, so loggers
// built by `var log = logging.L(...)` before Init still end up at the
// configured output. Attributes and groups are replayed in order.
type deferred struct {
	ops []func(slog.Handler) slog.Handler
}

func (d *deferred) resolve() slog.Handler {
	h := *target.Load()
	for _, op := range d.ops {
		h = op(h)
	}
	return h
}

func (d *deferred) with(op func(slog.Handler) slog.Handler) *deferred {
	ops := make([]func(slog.Handler) slog.Handler, len(d.ops), len(d.ops)+1)
	copy(ops, d.ops)
	return &deferred{ops: append(ops, op)}
}

func (d *deferred) Enabled(_ context.Context, l slog.Level) bool {
	return l >= level.Level()
}

func (d *deferred) Handle(ctx context.Context, r slog.Record) error {
	return d.resolve().Handle(ctx, r)
}

func (d *deferred) WithAttrs(attrs []slog.Attr) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (d *deferred) WithGroup(name string) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func setOutput(format string, w io.Writer) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	target.Store(&h)
}

// Init points every logger at output (nil = os.Stderr; the console owns
// stdout). format is "json" or "text"; level is "debug", "info", "warn" or
// "error" and defaults to info.
func Init(format, lvl string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	level.Set(parseLevel(lvl))
	setOutput(format, output)
}

// SetLevel changes the level of every logger.
func SetLevel(lvl string) {
	level.Set(parseLevel(lvl))
}

// Level returns the active level name in lower case.
func Level() string {
	return strings.ToLower(level.Level().String())
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return root.With(slog.String(KeyComponent, component))
}

// WithSlot returns a child logger carrying the slot id.
func WithSlot(logger *slog.Logger, slotID string) *slog.Logger {
	return logger.With(slog.String(KeySlotID, slotID))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
