package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is a leveled wrapper over log/slog with printf-style methods. The
// core library only ever sees the echotrace.Logger interface; this is the
// default implementation behind it.
type Logger struct {
	level *slog.LevelVar
	sl    *slog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// New builds a logger writing text records to w at the given level.
func New(w io.Writer, level slog.Level) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level)
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return &Logger{level: lv, sl: slog.New(h)}
}

// GetLogger returns the process-wide logger, honoring LOG_LEVEL
// (debug|info|warn|error) on first use.
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = New(os.Stderr, parseLevel(os.Getenv("LOG_LEVEL")))
	})
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(slog.LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(slog.LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }

func (l *Logger) logf(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !l.sl.Enabled(ctx, level) {
		return
	}
	if len(args) == 0 {
		l.sl.Log(ctx, level, format)
		return
	}
	l.sl.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Slog exposes the underlying slog.Logger for callers that want structured
// attributes instead of printf formatting.
func (l *Logger) Slog() *slog.Logger { return l.sl }

// Package-level convenience functions using the default logger.

func Debugf(format string, args ...any) { GetLogger().Debugf(format, args...) }
func Infof(format string, args ...any)  { GetLogger().Infof(format, args...) }
func Warnf(format string, args ...any)  { GetLogger().Warnf(format, args...) }
func Errorf(format string, args ...any) { GetLogger().Errorf(format, args...) }
