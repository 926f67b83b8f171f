// Package logger provides structured logging with OpenTelemetry trace
// correlation.
//
// This package provides:
//   - slog-based structured logging (JSON or TEXT format)
//   - Automatic trace_id and span_id injection from OpenTelemetry context
//   - A Logger interface so callers depend on an injected sink rather than
//     a process-global
//
// Usage:
//
//	log := logger.New(logger.Config{Level: "INFO", Format: "JSON"}, "queue/consumer")
//	log.Info("starting poll loop", logger.Fields{"stream": stream})
package logger

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/fazpi-ai/fazpi-qbull/pkg/errors"
)

// Level names recognized in configuration and emitted on records.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Fields carries structured attributes attached to a single log record.
type Fields map[string]any

// Logger is the sink interface components depend on. Implementations must
// be safe for concurrent use.
type Logger interface {
	Debug(msg string, fields ...Fields)
	Info(msg string, fields ...Fields)
	Warn(msg string, fields ...Fields)
	// Error logs a failure. err may be nil for a record that merely reports
	// an error-level condition without a concrete Go error value.
	Error(msg string, err error, fields ...Fields)
	// With returns a Logger that tags every record with moduleName.
	With(moduleName string) Logger
}

// Config holds configuration for the default Logger implementation.
type Config struct {
	// File is the log file path. The stdlib implementation writes to
	// stdout regardless; File is accepted for configuration-surface
	// compatibility with external log-shipping agents that tail it.
	File string `env:"LOG_FILE" env-default:"app.log"`

	// Level sets the minimum level when ConsoleLevel is empty.
	Level string `env:"LOG_LEVEL" env-default:"debug"`

	// ConsoleLevel overrides Level for the stdout sink.
	ConsoleLevel string `env:"LOG_LEVEL_CONSOLE" env-default:"debug"`

	// FileLevel is accepted for configuration-surface compatibility like
	// File; New does not read it, since records go to stdout only.
	FileLevel string `env:"LOG_LEVEL_FILE" env-default:"info"`

	// Format sets the output format: JSON or TEXT.
	Format string `env:"LOG_FORMAT" env-default:"JSON"`
}

// New builds a Logger writing to stdout, tagged with moduleName.
func New(cfg Config, moduleName string) Logger {
	level := cfg.ConsoleLevel
	if level == "" {
		level = cfg.Level
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "TEXT" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	handler = newTraceHandler(handler)

	return &slogLogger{slog: slog.New(handler), module: moduleName}
}

// Named returns a Logger using default configuration, tagged with
// moduleName. Convenient for adapters/tests that don't carry a Config.
func Named(moduleName string) Logger {
	return New(Config{Level: LevelDebug, Format: "JSON"}, moduleName)
}

func parseLevel(level string) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type slogLogger struct {
	slog   *slog.Logger
	module string
}

func (l *slogLogger) attrs(fields []Fields) []any {
	out := make([]any, 0, len(fields)*2+2)
	out = append(out, "module", l.module)
	for _, f := range fields {
		for k, v := range f {
			out = append(out, k, v)
		}
	}
	return out
}

func (l *slogLogger) Debug(msg string, fields ...Fields) {
	l.slog.Debug(msg, l.attrs(fields)...)
}

func (l *slogLogger) Info(msg string, fields ...Fields) {
	l.slog.Info(msg, l.attrs(fields)...)
}

func (l *slogLogger) Warn(msg string, fields ...Fields) {
	l.slog.Warn(msg, l.attrs(fields)...)
}

func (l *slogLogger) Error(msg string, err error, fields ...Fields) {
	attrs := l.attrs(fields)
	if err != nil {
		attrs = append(attrs, "err", errField(err))
	}
	l.slog.Error(msg, attrs...)
}

func (l *slogLogger) With(moduleName string) Logger {
	return &slogLogger{slog: l.slog, module: moduleName}
}

// errField shapes an error the way §6 of the spec describes: a structured
// field with message/name/stack. Go errors carry no separate "name"; the
// dynamic type fills that role, and there is no portable stack trace
// without a tracing library the teacher doesn't depend on.
func errField(err error) map[string]string {
	return map[string]string{
		"message": err.Error(),
		"name":    errorTypeName(err),
	}
}

func errorTypeName(err error) string {
	var ae *apperrors.AppError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return "error"
}

// traceHandler injects trace_id/span_id attributes from the context's
// active OpenTelemetry span, mirroring the teacher's logger package.
type traceHandler struct {
	next slog.Handler
}

func newTraceHandler(next slog.Handler) *traceHandler {
	return &traceHandler{next: next}
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name)}
}
