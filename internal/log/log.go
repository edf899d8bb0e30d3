// Package log provides the scheduler's structured logger, built on
// log/slog the way the teacher repo's log/compat.go wraps a
// third-party logger: level constants, a Root() default, and a
// terminal handler that auto-detects color support.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

// Logger is the interface the scheduler logs through. It is satisfied
// by *slog.Logger plus the Crit convenience method.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Crit(msg string, args ...any)
	With(args ...any) Logger
	Enabled(ctx context.Context, level slog.Level) bool
}

type logger struct {
	inner *slog.Logger
}

func wrap(l *slog.Logger) Logger { return &logger{inner: l} }

func (l *logger) Trace(msg string, args ...any) { l.inner.Log(context.Background(), LevelTrace, msg, args...) }
func (l *logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *logger) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *logger) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }
func (l *logger) Crit(msg string, args ...any)  { l.inner.Log(context.Background(), LevelCrit, msg, args...) }
func (l *logger) With(args ...any) Logger       { return wrap(l.inner.With(args...)) }
func (l *logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

var root Logger = wrap(slog.New(NewTerminalHandler(os.Stderr, LevelInfo)))

// Root returns the process-wide default logger.
func Root() Logger { return root }

// SetDefault replaces the process-wide default logger.
func SetDefault(l Logger) { root = l }

func Trace(msg string, args ...any) { root.Trace(msg, args...) }
func Debug(msg string, args ...any) { root.Debug(msg, args...) }
func Info(msg string, args ...any)  { root.Info(msg, args...) }
func Warn(msg string, args ...any)  { root.Warn(msg, args...) }
func Error(msg string, args ...any) { root.Error(msg, args...) }
func Crit(msg string, args ...any)  { root.Crit(msg, args...) }

// NewTerminalHandler returns a slog.Handler that colorizes output when
// w is an attached terminal, following cmd/evm-node/main.go's
// NewTerminalHandlerWithLevel shape from the teacher repo.
func NewTerminalHandler(w io.Writer, minLevel slog.Level) slog.Handler {
	out := w
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		out = colorable.NewColorable(f)
	}
	return slog.NewTextHandler(out, &slog.HandlerOptions{Level: minLevel})
}

// NewRotatingFileHandler returns a slog.Handler writing JSON lines to
// a rotated log file, for long-running scheduler processes.
func NewRotatingFileHandler(path string, minLevel slog.Level) slog.Handler {
	return slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}, &slog.HandlerOptions{Level: minLevel})
}

// New builds a Logger from an arbitrary slog.Handler.
func New(h slog.Handler) Logger { return wrap(slog.New(h)) }
