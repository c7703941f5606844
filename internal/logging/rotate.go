package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// NewWriter returns stdout, or stdout teed into a size-rotated file when
// opts.Path is set. The returned closer releases the file.
func NewWriter(opts FileOptions) (io.Writer, io.Closer) {
	if opts.Path == "" {
		return os.Stdout, io.NopCloser(nil)
	}

	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, lj), lj
}

// NewJSONLogger builds a SlogLogger emitting JSON lines to w.
func NewJSONLogger(w io.Writer, level slog.Level) *SlogLogger {
	return NewSlogLogger(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}
