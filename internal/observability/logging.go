// Package observability wraps log/slog, prometheus/client_golang, and
// OpenTelemetry tracing behind the thin surfaces the rest of the engine
// calls at every layer boundary: tool bus, agent adapter, workflow graph,
// session controller.
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps slog with context-correlated fields and redaction of
// secrets before they reach any handler. Grounded on the teacher's
// internal/observability/logging.go; ContextKey values are renamed from
// request/user/channel to the engine's own correlation axes
// (session_id, run_id, agent).
type Logger struct {
	logger  *slog.Logger
	level   *slog.LevelVar
	redacts []*regexp.Regexp
}

// LogConfig configures a Logger.
type LogConfig struct {
	Level     string // "debug" | "info" | "warn" | "error"
	Format    string // "json" | "text"
	Output    io.Writer
	AddSource bool
}

// ContextKey is the type used for correlation fields stashed on a context.
type ContextKey string

const (
	SessionIDKey ContextKey = "session_id"
	RunIDKey     ContextKey = "run_id"
	AgentKey     ContextKey = "agent"
)

// DefaultRedactPatterns covers the secret shapes the engine's own
// dependencies are likely to leak into a log line: provider API keys,
// bearer tokens, and the approval-correlation JWTs this repo signs.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger builds a Logger from config, defaulting Output to os.Stdout,
// Level to "info", and Format to "json".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	level := &slog.LevelVar{}
	level.Set(LogLevelFromString(config.Level))

	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}
	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns))
	for _, pattern := range DefaultRedactPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return &Logger{logger: slog.New(handler), level: level, redacts: redacts}
}

// SetLevel changes the minimum level this Logger emits at, in place. Used by
// the config hot-reload path (internal/config.Watcher.OnReload) so
// logging.level can change without restarting the process.
func (l *Logger) SetLevel(levelStr string) {
	l.level.Set(LogLevelFromString(levelStr))
}

// With returns a logger pre-populated with the correlation fields found
// on ctx (session_id, run_id, agent) — the helper nodes and the
// supervisor call at the top of every operation.
func (l *Logger) With(ctx context.Context) *slog.Logger {
	attrs := make([]any, 0, 6)
	if v, ok := ctx.Value(SessionIDKey).(string); ok && v != "" {
		attrs = append(attrs, "session_id", v)
	}
	if v, ok := ctx.Value(RunIDKey).(string); ok && v != "" {
		attrs = append(attrs, "run_id", v)
	}
	if v, ok := ctx.Value(AgentKey).(string); ok && v != "" {
		attrs = append(attrs, "agent", v)
	}
	if len(attrs) == 0 {
		return l.logger
	}
	return l.logger.With(attrs...)
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)
	redacted := make([]any, len(args))
	for i, a := range args {
		redacted[i] = l.redactValue(a)
	}
	l.With(ctx).Log(ctx, level, msg, redacted...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// WithSessionID stashes a session id on ctx for later retrieval by With.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// WithRunID stashes the current workflow run id on ctx.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

// WithAgent stashes the currently dispatched agent on ctx.
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

// LogLevelFromString converts a string to a slog.Level, defaulting to Info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
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
