// Package logger builds the process-wide slog.Logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	level   slog.Level
	file    string
	output  io.Writer
	maxSize int
}

// Option customizes New.
type Option func(*options)

// WithLevel sets the minimum level from a name such as "debug" or "warn".
// Unknown names keep the default (info).
func WithLevel(name string) Option {
	return func(o *options) {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(name))); err == nil {
			o.level = lvl
		}
	}
}

// WithLogFile tees log output into a size-rotated file.
func WithLogFile(path string) Option {
	return func(o *options) { o.file = path }
}

// WithOutput replaces stdout as the primary sink.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// New returns a logger for env. Development gets tinted text output; every other
// environment gets JSON.
func New(env string, opts ...Option) *slog.Logger {
	o := &options{level: slog.LevelInfo, output: os.Stdout, maxSize: 50}
	for _, opt := range opts {
		opt(o)
	}

	out := o.output
	if o.file != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   o.file,
			MaxSize:    o.maxSize,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	if env == "development" {
		return slog.New(tint.NewHandler(out, &tint.Options{
			Level:      o.level,
			TimeFormat: time.Kitchen,
			NoColor:    o.file != "" || o.output != os.Stdout,
		}))
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: o.level}))
}
