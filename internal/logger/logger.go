// Package logger is the process-wide structured logger. Call sites pass the request context so
// request and identity fields attached with WithRequestID / WithIdentity land on every line.
package logger

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// InitLogging configures the global logger. An empty logFilePath logs to stdout only;
// otherwise lines also go to a rotated file.
func InitLogging(logFilePath string) {
	InitLoggingWithLevel(logFilePath, "info")
}

// InitLoggingWithLevel is InitLogging with an explicit level name ("debug", "info", ...).
func InitLoggingWithLevel(logFilePath, level string) {
	var w io.Writer = os.Stdout
	if logFilePath != "" {
		w = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	SetOutput(w, lvl)
}

// SetOutput replaces the global writer and level. Tests use it to capture output.
func SetOutput(w io.Writer, lvl zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "task-sync").Logger()
}

// Logger returns the logger for ctx, carrying any fields attached to it.
func Logger(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
			return l
		}
	}
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithField returns a context whose logger carries key=value.
func WithField(ctx context.Context, key, value string) context.Context {
	l := Logger(ctx).With().Str(key, value).Logger()
	return context.WithValue(ctx, ctxKey{}, l)
}

// WithRequestID tags log lines with the HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return WithField(ctx, "request_id", id)
}

// WithIdentity tags log lines with the acting identity.
func WithIdentity(ctx context.Context, identityID string) context.Context {
	return WithField(ctx, "identity_id", identityID)
}

func DebugLog(ctx context.Context, msg string) {
	l := Logger(ctx)
	l.Debug().Msg(msg)
}

func InfoLog(ctx context.Context, msg string) {
	l := Logger(ctx)
	l.Info().Msg(msg)
}

func WarnLog(ctx context.Context, msg string) {
	l := Logger(ctx)
	l.Warn().Msg(msg)
}

func ErrorLog(ctx context.Context, msg string) {
	l := Logger(ctx)
	l.Error().Msg(msg)
}
