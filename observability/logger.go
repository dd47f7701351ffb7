package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogOptions configures InitLogger. Zero values give an info-level console
// logger on stderr.
type LogOptions struct {
	Level  string
	Format string // "console" or "json"
	Out    io.Writer
}

// InitLogger builds the process logger and installs it as log.Logger.
func InitLogger(app string, opts LogOptions) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("observability: log level %q: %w", opts.Level, err)
		}
		level = l
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	switch opts.Format {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("observability: unknown log format %q", opts.Format)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger, nil
}

// VerbosityLevel maps repeated -v / -q counts onto a level, starting from
// info.
func VerbosityLevel(verbose, quiet int) zerolog.Level {
	l := int(zerolog.InfoLevel) - verbose + quiet
	if l < int(zerolog.TraceLevel) {
		l = int(zerolog.TraceLevel)
	}
	if l > int(zerolog.Disabled) {
		l = int(zerolog.Disabled)
	}
	return zerolog.Level(l)
}
