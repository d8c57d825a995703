// Package log is the process-wide structured logger for ci-for-pr.
//
// Call sites pass a message followed by alternating key/value pairs:
//
//	log.Info("published manifest", "url", ref.URL)
//
// Levels, from most to least verbose: debug, info, progress, minimal.
// "progress" keeps per-stage milestones and warnings; "minimal" keeps only
// warnings and errors.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LevelProgress sits between info and warn and carries stage milestones.
const LevelProgress = slog.Level(2)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, slog.LevelInfo, false)
)

// Options configures the global logger.
type Options struct {
	Level  string
	JSON   bool
	Writer io.Writer
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "progress":
		return LevelProgress, nil
	case "minimal", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, progress, minimal)", name)
	}
}

// Init replaces the global logger.
func Init(opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	mu.Lock()
	logger = newLogger(w, level, opts.JSON)
	mu.Unlock()
	return nil
}

func newLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelProgress {
					a.Value = slog.StringValue("PROGRESS")
				}
			}
			return a
		},
	}
	if json {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// L returns the current logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a logger that always carries the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

func Debug(msg string, args ...any) { L().Debug(msg, args...) }

func Info(msg string, args ...any) { L().Info(msg, args...) }

// Progress logs a stage milestone.
func Progress(msg string, args ...any) {
	L().Log(context.Background(), LevelProgress, msg, args...)
}

func Warn(msg string, args ...any) { L().Warn(msg, args...) }

func Error(msg string, args ...any) { L().Error(msg, args...) }
