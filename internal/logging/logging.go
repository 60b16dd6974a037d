// Package logging builds the shared log output and per-component loggers.
//
// Every component logs through a *log.Logger with a bracketed prefix
// ("[engine] ", "[remote] ", ...). The writer behind them is stderr by
// default, a size-rotated file when a log file is configured, or discarded
// in quiet mode.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log output.
type Options struct {
	// File enables rotated file logging when non-empty.
	File string
	// MaxSizeMB is the size at which the file is rotated (default: 10).
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept (default: 3).
	MaxBackups int
	// MaxAgeDays is how long rotated files are kept (default: 28).
	MaxAgeDays int
	// Quiet discards all output.
	Quiet bool
}

// Output is the shared writer for all component loggers.
type Output struct {
	w      io.Writer
	closer io.Closer
}

// New builds the output described by opts.
func New(opts Options) (*Output, error) {
	if opts.Quiet {
		return &Output{w: io.Discard}, nil
	}
	if opts.File == "" {
		return &Output{w: os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, err
	}

	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    orDefault(opts.MaxSizeMB, 10),
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAgeDays, 28),
		Compress:   true,
	}
	return &Output{w: lj, closer: lj}, nil
}

// Stderr returns an output writing to standard error.
func Stderr() *Output {
	return &Output{w: os.Stderr}
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Logger returns a logger for component, prefixed "[component] ".
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes the log file, if any.
func (o *Output) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
