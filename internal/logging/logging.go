// Package logging configures the process-wide slog logger.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const opIDKey contextKey = "op_id"

// ParseLevel maps debug/info/warn/error onto slog levels, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init installs a JSON logger as slog's default. LOG_LEVEL wins over
// level. With a file the output is rotated by lumberjack, otherwise it
// goes to stderr so stdout stays free for command output. Close the
// returned closer on exit.
func Init(level, file string) io.Closer {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl := ParseLevel(level)

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out, closer = lj, lj
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	slog.Debug("logger initialized", "level", lvl.String(), "file", file)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Component returns the default logger tagged with a component name
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

func newOpID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithOp tags ctx with a fresh operation id so the log lines of one client
// operation can be correlated.
func WithOp(ctx context.Context) context.Context {
	if OpID(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, opIDKey, newOpID())
}

func OpID(ctx context.Context) string {
	if id, ok := ctx.Value(opIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns base with the operation id of ctx attached
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := OpID(ctx); id != "" {
		return base.With("op_id", id)
	}
	return base
}

// CronLogger adapts slog to the cron package's logger interface
type CronLogger struct {
	Log *slog.Logger
}

func (l CronLogger) logger() *slog.Logger {
	if l.Log == nil {
		return slog.Default()
	}
	return l.Log
}

func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger().Debug(msg, keysAndValues...)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger().Error(msg, append(keysAndValues, "error", err)...)
}
