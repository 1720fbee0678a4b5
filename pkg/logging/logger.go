package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

const system = "parallel-sessions"

// Logger is a structured logger shared by every component.
type Logger struct {
	*slog.Logger
}

// New creates a JSON logger writing to w, tagged with component.
func New(w io.Writer, component string, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", system),
	)
	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
}

// Component returns a logger with the component attribute replaced.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", name))}
}

// WithContext attaches the trace and span ids of the active span, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{Logger: l.Logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)}
}

// WithRun returns a logger scoped to a run.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("run_id", runID))}
}

// WithSession returns a logger scoped to a session.
func (l *Logger) WithSession(sessionID int) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Int("session_id", sessionID))}
}

// WithStage returns a logger scoped to a pipeline stage.
func (l *Logger) WithStage(stage string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("stage", stage))}
}

// StageStarted logs entry into a pipeline stage
func (l *Logger) StageStarted(stage string) {
	l.Debug("stage started", slog.String("stage", stage))
}

// StageRetry logs a bounded retry inside a stage
func (l *Logger) StageRetry(stage string, attempt, max int, reason string) {
	l.Info("stage retry",
		slog.String("stage", stage),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", max),
		slog.String("reason", reason),
	)
}

// SessionTerminal logs the final outcome of a session
func (l *Logger) SessionTerminal(status, action string, err error) {
	attrs := []any{
		slog.String("status", status),
		slog.String("action", action),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Error("session ended", attrs...)
		return
	}
	l.Info("session ended", attrs...)
}

// CommandDelivered logs an operator command routed to a session gate
func (l *Logger) CommandDelivered(sessionID int, payloadSize int) {
	l.Info("command delivered",
		slog.Int("session_id", sessionID),
		slog.Int("payload_size", payloadSize),
	)
}

// ObserverDropped logs removal of a live observer
func (l *Logger) ObserverDropped(observerID, reason string) {
	l.Warn("observer dropped",
		slog.String("observer_id", observerID),
		slog.String("reason", reason),
	)
}

// ProxyPoolReloaded logs a proxy pool refresh
func (l *Logger) ProxyPoolReloaded(path string, count int) {
	l.Info("proxy pool reloaded",
		slog.String("path", path),
		slog.Int("count", count),
	)
}
