// Package logger provides the agent's structured logging facade. It wraps
// log/slog behind a small interface so call sites depend on behavior
// (Info/Debug/Warn/Error, With, WithGroup) rather than a concrete handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Logger is the logging surface used throughout the agent.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

type options struct {
	debug   bool
	format  string
	quiet   bool
	writer  io.Writer
	logFile *os.File
}

// Option configures a Logger built by NewLogger.
type Option func(*options)

// WithDebug enables debug-level logging and source-location attribution.
func WithDebug() Option { return func(o *options) { o.debug = true } }

// WithFormat selects "text" (default) or "json" output.
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithQuiet suppresses stdout output; a log file set via WithLogFile is
// unaffected.
func WithQuiet() Option { return func(o *options) { o.quiet = true } }

// WithWriter overrides the destination writer (primarily for tests).
func WithWriter(w io.Writer) Option { return func(o *options) { o.writer = w } }

// WithLogFile additionally mirrors output to f.
func WithLogFile(f *os.File) Option { return func(o *options) { o.logFile = f } }

type logger struct {
	slog  *slog.Logger
	debug bool
}

// NewLogger builds a Logger from the given options.
func NewLogger(opts ...Option) Logger {
	o := &options{format: "text"}
	for _, opt := range opts {
		opt(o)
	}

	var writers []io.Writer
	if o.writer != nil {
		writers = append(writers, o.writer)
	} else if !o.quiet {
		writers = append(writers, os.Stdout)
	}
	if o.logFile != nil {
		writers = append(writers, o.logFile)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: o.debug,
	}

	var dest io.Writer
	if len(writers) == 1 {
		dest = writers[0]
	} else {
		dest = io.MultiWriter(writers...)
	}

	var h slog.Handler
	switch o.format {
	case "json":
		h = slog.NewJSONHandler(dest, handlerOpts)
	default:
		h = slog.NewTextHandler(dest, handlerOpts)
	}

	return &logger{slog: slog.New(h), debug: o.debug}
}

// record builds a slog.Record stamped with the caller two frames up
// from the public Logger method (skipping this helper and the method
// itself), so AddSource attributes the log line to the actual call site
// instead of this package.
func (l *logger) record(ctx context.Context, level slog.Level, msg string, args []any) {
	if !l.slog.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.slog.Handler().Handle(ctx, r)
}

func (l *logger) Debug(msg string, args ...any) { l.record(context.Background(), slog.LevelDebug, msg, args) }
func (l *logger) Info(msg string, args ...any)  { l.record(context.Background(), slog.LevelInfo, msg, args) }
func (l *logger) Warn(msg string, args ...any)  { l.record(context.Background(), slog.LevelWarn, msg, args) }
func (l *logger) Error(msg string, args ...any) { l.record(context.Background(), slog.LevelError, msg, args) }

func (l *logger) Debugf(format string, args ...any) {
	l.record(context.Background(), slog.LevelDebug, fmt.Sprintf(format, args...), nil)
}
func (l *logger) Infof(format string, args ...any) {
	l.record(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...), nil)
}
func (l *logger) Warnf(format string, args ...any) {
	l.record(context.Background(), slog.LevelWarn, fmt.Sprintf(format, args...), nil)
}
func (l *logger) Errorf(format string, args ...any) {
	l.record(context.Background(), slog.LevelError, fmt.Sprintf(format, args...), nil)
}

func (l *logger) With(args ...any) Logger {
	return &logger{slog: l.slog.With(args...), debug: l.debug}
}

func (l *logger) WithGroup(name string) Logger {
	return &logger{slog: l.slog.WithGroup(name), debug: l.debug}
}

// NopLogger returns a Logger that discards everything, for tests and
// call sites that received no logger.
func NopLogger() Logger {
	return &logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
