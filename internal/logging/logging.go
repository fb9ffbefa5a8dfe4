// Package logging builds the zerolog loggers used by the commands.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger on stderr, or a console logger when dev is set.
// level is a zerolog level name; unknown names fall back to info.
func New(dev bool, level string) zerolog.Logger {
	return NewWithWriter(os.Stderr, dev, level)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, dev bool, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if dev && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}
	return logger
}
