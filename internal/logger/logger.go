// Package logger builds the zerolog logger shared by the server components.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/waveboard/internal/config"
)

const permission = 0664

// New creates a configured logger. The returned closer should be deferred to
// flush and close file handles.
func New(cfg config.LoggerConfig) (zerolog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log output: %w", err)
	}

	if strings.ToLower(cfg.Format) != "json" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.TimeOnly}
	}

	log := zerolog.New(writer).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return log, closer, nil
}

// parseLevel converts a string level to a zerolog.Level.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// openOutput returns an io.Writer for the specified output target.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, permission)
		if err != nil {
			return nil, nil, err
		}
		return zerolog.SyncWriter(f), f.Close, nil
	}
}
