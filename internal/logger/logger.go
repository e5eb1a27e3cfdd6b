// Package logger is the process-wide formatting facade over log/slog used
// by every command. Output destination and verbosity can be swapped at
// runtime, so the entrypoint can point it at a log file after config load.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	SetOutput(os.Stdout)
}

// SetOutput replaces the destination of all subsequent log lines.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level})
	current.Store(slog.New(handler))
}

// SetLevel adjusts verbosity by name. Unknown names fall back to info.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

func logf(lv slog.Level, format string, args ...any) {
	l := current.Load()
	if l == nil || !l.Enabled(context.Background(), lv) {
		return
	}
	l.Log(context.Background(), lv, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) { logf(slog.LevelDebug, format, args...) }

func Infof(format string, args ...any) { logf(slog.LevelInfo, format, args...) }

func Warnf(format string, args ...any) { logf(slog.LevelWarn, format, args...) }

func Errorf(format string, args ...any) { logf(slog.LevelError, format, args...) }
