// Package logging provides slog setup helpers for garpd.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// levelTrace sits below slog.LevelDebug so "--log trace" can be
// distinguished from "--log debug": trace additionally tags every record
// with the emitting module.
const levelTrace = slog.LevelDebug - 4

// levelOff sits above any level a real record would use, so the "no"
// level silences the logger without a branch at every call site.
const levelOff = slog.LevelError + 4

// ParseLevel converts a CLI --log value into an slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "no", "off":
		return levelOff
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info", "":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "trace":
		return levelTrace
	default:
		return slog.LevelInfo
	}
}

// moduleHandler injects a "module" attribute into every record when the
// configured level is trace. It does no filtering of its own; level
// filtering is done by the wrapped handler.
type moduleHandler struct {
	slog.Handler
	module string
	trace  bool
}

func (h *moduleHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.trace {
		r.AddAttrs(slog.String("module", h.module))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *moduleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &moduleHandler{Handler: h.Handler.WithAttrs(attrs), module: h.module, trace: h.trace}
}

func (h *moduleHandler) WithGroup(name string) slog.Handler {
	return &moduleHandler{Handler: h.Handler.WithGroup(name), module: h.module, trace: h.trace}
}

// Setup initializes the default slog logger for the given level string.
// Log records are one JSON object per line on w, matching
// {level, ts (RFC3339 ms UTC), msg, module?} plus event-specific fields.
func Setup(level string, module string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	lvl := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Key = "ts"
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000Z"))
			}
			return a
		},
	}

	base := slog.NewJSONHandler(w, opts)
	handler := &moduleHandler{Handler: base, module: module, trace: lvl == levelTrace}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
