// Package logging builds the zerolog logger shared by the service and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Level is a zerolog level name. Empty means info.
	Level string
	// JSON disables the human readable console format.
	JSON bool
	// Console receives console output. Nil means stderr.
	Console io.Writer

	// File, when set, additionally receives JSON lines with size based rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns the logger and a closer for any file it opened.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("parsing log level: %w", err)
		}
		level = l
	}

	writers := []io.Writer{consoleWriter(opts)}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

func consoleWriter(opts Options) io.Writer {
	if opts.Console != nil {
		if opts.JSON {
			return opts.Console
		}
		return zerolog.ConsoleWriter{Out: opts.Console, NoColor: true, TimeFormat: time.TimeOnly}
	}

	if opts.JSON {
		return os.Stderr
	}
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return zerolog.ConsoleWriter{Out: colorable.NewColorableStderr(), TimeFormat: time.TimeOnly}
	}
	return zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true, TimeFormat: time.RFC3339}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
