package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type contextKeyType string

var contextKey = contextKeyType("log")

func extract(ctx context.Context) []slog.Attr {
	result, _ := ctx.Value(contextKey).([]slog.Attr)
	return result
}

func WithValue(ctx context.Context, key string, val any) context.Context {
	attrs := append([]slog.Attr(nil), extract(ctx)...)
	switch v := val.(type) {
	case bool:
		attrs = append(attrs, slog.Bool(key, v))
	case time.Duration:
		attrs = append(attrs, slog.Duration(key, v))
	case float64:
		attrs = append(attrs, slog.Float64(key, v))
	case []any:
		attrs = append(attrs, slog.Group(key, v...))
	case int:
		attrs = append(attrs, slog.Int(key, v))
	case int64:
		attrs = append(attrs, slog.Int64(key, v))
	case string:
		attrs = append(attrs, slog.String(key, v))
	case time.Time:
		attrs = append(attrs, slog.Time(key, v))
	case uint64:
		attrs = append(attrs, slog.Uint64(key, v))
	default:
		attrs = append(attrs, slog.Any(key, v))
	}
	return context.WithValue(ctx, contextKey, attrs)
}

type loggers struct {
	info  *slog.Logger
	error *slog.Logger
}

var current atomic.Pointer[loggers]

func init() {
	current.Store(&loggers{
		info:  slog.New(slog.NewJSONHandler(os.Stdout, nil)),
		error: slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	})
}

// Options selects the level and output format. Empty values keep the
// defaults (info, json).
type Options struct {
	Level  string
	Format string
	Stdout io.Writer
	Stderr io.Writer
}

// Configure replaces the package loggers. Info and debug records go to
// Stdout, warnings and errors to Stderr.
func Configure(opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var newHandler func(io.Writer, *slog.HandlerOptions) slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		newHandler = func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewJSONHandler(w, o) }
	case "text", "console":
		newHandler = func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewTextHandler(w, o) }
	default:
		return fmt.Errorf("unsupported log format %q", opts.Format)
	}
	current.Store(&loggers{
		info:  slog.New(newHandler(stdout, handlerOpts)),
		error: slog.New(newHandler(stderr, handlerOpts)),
	})
	return nil
}

// ParseLevel accepts debug, info, warn (or warning) and error.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

func Debugf(ctx context.Context, f string, args ...any) {
	current.Load().info.LogAttrs(ctx, slog.LevelDebug, fmt.Sprintf(f, args...), extract(ctx)...)
}

func Infof(ctx context.Context, f string, args ...any) {
	current.Load().info.LogAttrs(ctx, slog.LevelInfo, fmt.Sprintf(f, args...), extract(ctx)...)
}

func Warnf(ctx context.Context, f string, args ...any) {
	current.Load().error.LogAttrs(ctx, slog.LevelWarn, fmt.Sprintf(f, args...), extract(ctx)...)
}

func Errorf(ctx context.Context, f string, args ...any) {
	current.Load().error.LogAttrs(ctx, slog.LevelError, fmt.Sprintf(f, args...), extract(ctx)...)
}
