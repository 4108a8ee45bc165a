// Package logger holds the process-wide structured logger used by the pool
// and heap packages. It discards everything until Init is called.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// L is the logger behind the package helpers.
var L = discard

// logFile is the file opened by the last Init, closed on the next one.
var logFile *os.File

// Options selects where log records go.
type Options struct {
	Enabled bool
	File    string     // append to this file, creating parent directories
	Writer  io.Writer  // used when File is empty; os.Stderr if nil
	Level   slog.Level // records below Level are dropped
	JSON    bool
}

// Init replaces L according to opts. It is not safe to call concurrently
// with logging.
func Init(opts Options) error {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if !opts.Enabled {
		L = discard
		return nil
	}

	var w io.Writer = os.Stderr
	switch {
	case opts.File != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		logFile, w = f, f
	case opts.Writer != nil:
		w = opts.Writer
	}

	var h slog.Handler
	if hopts := (&slog.HandlerOptions{Level: opts.Level}); opts.JSON {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	L = slog.New(h)
	return nil
}

func Debug(msg string, args ...any) { L.Debug(msg, args...) }
func Info(msg string, args ...any)  { L.Info(msg, args...) }
func Warn(msg string, args ...any)  { L.Warn(msg, args...) }
func Error(msg string, args ...any) { L.Error(msg, args...) }
