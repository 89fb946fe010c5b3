package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level    string // debug, info, warn, error
	Format   string // json ou text
	File     string // vazio = só stderr
	FileOnly bool   // com File, não escreve no stderr
}

var stderr io.Writer = os.Stderr

// New builds the process logger and installs it as slog's default. When
// File is set, records also go to a rotated file, or only to it with
// FileOnly. The returned closer flushes that file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	w := stderr
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		w = io.MultiWriter(stderr, lj)
		if opts.FileOnly {
			w = lj
		}
		closer = lj
	}

	logger := slog.New(newHandler(w, opts))
	slog.SetDefault(logger)
	return logger, closer, nil
}

func newHandler(w io.Writer, opts Options) slog.Handler {
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if strings.EqualFold(opts.Format, "text") {
		return slog.NewTextHandler(w, ho)
	}
	return slog.NewJSONHandler(w, ho)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
