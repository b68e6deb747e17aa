// Package observability holds streamrelay's logging, metrics and health
// checks.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "streamrelay"

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	Level     slog.Level
	JSON      bool
	AddSource bool
	Version   string
}

// NewLogger builds a logger writing to w. Every entry carries the service
// name and version, and the run ID of the context it is logged with.
func NewLogger(w io.Writer, opts LoggerOptions) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	attrs := []slog.Attr{slog.String("service", serviceName)}
	if opts.Version != "" {
		attrs = append(attrs, slog.String("version", opts.Version))
	}
	return slog.New(runIDHandler{handler.WithAttrs(attrs)})
}

// BootstrapLogger is used until the configuration is loaded.
func BootstrapLogger() *slog.Logger {
	return NewLogger(os.Stderr, LoggerOptions{Level: slog.LevelInfo})
}

// LoggerFor builds the logger for the configured environment. Production
// logs JSON with source locations to stdout; anything else logs text to
// stderr. A non-empty format ("json" or "text") overrides the environment.
func LoggerFor(appEnv, level, format, version string) *slog.Logger {
	opts := loggerOptions(appEnv, level, format, version)
	if appEnv == "production" {
		return NewLogger(os.Stdout, opts)
	}
	return NewLogger(os.Stderr, opts)
}

func loggerOptions(appEnv, level, format, version string) LoggerOptions {
	opts := LoggerOptions{
		Level:     ParseLevel(level),
		JSON:      appEnv == "production",
		AddSource: appEnv == "production",
		Version:   version,
	}
	switch strings.ToLower(format) {
	case "json":
		opts.JSON = true
	case "text":
		opts.JSON = false
	}
	return opts
}

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values are info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

type runIDHandler struct {
	slog.Handler
}

func (h runIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RunIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(RunIDKey, id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h runIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return runIDHandler{h.Handler.WithAttrs(attrs)}
}

func (h runIDHandler) WithGroup(name string) slog.Handler {
	return runIDHandler{h.Handler.WithGroup(name)}
}
