// Package logging provides the origin's structured logger: JSON/text
// slog output with masq redaction of attributes named token, path or secret
// (lowercase or capitalized), plus context-scoped logger and trace-id
// propagation. Other attributes, such as client addresses or URLs, are
// logged as given.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/masq"
)

// Config controls logger construction. It mirrors the handful of knobs the
// engine's configuration surface exposes (spec §6 "log_level").
type Config struct {
	Level      string // trace, debug, info, warn, error
	Format     string // json or text
	AddSource  bool
	TimeFormat string
}

// GlobalLevel is shared so the level can be changed at runtime without
// rebuilding the handler chain.
var GlobalLevel = &slog.LevelVar{}

// New builds a logger writing to os.Stdout.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds a logger writing to w, for tests and alternate sinks.
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	GlobalLevel.Set(parseLevel(cfg.Level))

	redactor := masq.New(
		masq.WithFieldName("token"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("path"),
		masq.WithFieldName("Path"),
		masq.WithFieldName("secret"),
		masq.WithFieldName("Secret"),
	)

	opts := &slog.HandlerOptions{
		Level:     GlobalLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a = redactor(groups, a)
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	GlobalLevel.Set(parseLevel(level))
}

type contextKey string

const loggerKey contextKey = "logger"

// WithContext attaches logger to ctx.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger attached by WithContext, falling back to
// the process default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithTraceID returns a logger annotated with a trace id, for correlating
// every log line touching one segment, request, or session.
func WithTraceID(logger *slog.Logger, traceID string) *slog.Logger {
	return logger.With(slog.String("trace_id", traceID))
}

// WithComponent returns a logger annotated with a component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError returns a logger annotated with an error, or logger unchanged
// if err is nil.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// TimedOperation logs an operation's start and, via the returned func,
// its completion and duration.
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string) func(err error) {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))
	return func(err error) {
		duration := time.Since(start)
		if err != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
			return
		}
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		)
	}
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
