package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// Service is stamped on every entry.
const Service = "supplybalance"

var (
	// Log is the global logger instance
	Log zerolog.Logger
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	Log = newLogger(consoleWriter(os.Stdout))
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
	}
}

func newLogger(out io.Writer) zerolog.Logger {
	return zerolog.New(out).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Str("service", Service).
		Caller().
		Logger()
}

// Configure selects the output format ("console" or "json") and level, and
// makes the result the default logger of github.com/rs/zerolog/log.
func Configure(levelStr, format string) {
	configureTo(os.Stdout, levelStr, format)
}

func configureTo(out io.Writer, levelStr, format string) {
	if format != "json" {
		out = consoleWriter(out)
	}
	Log = newLogger(out)
	SetLevel(levelStr)
	log.Logger = Log
}

// SetLevel sets the log level. An empty level means info.
func SetLevel(levelStr string) {
	if levelStr == "" {
		levelStr = zerolog.InfoLevel.String()
	}
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		Log.Warn().Str("level", levelStr).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
}
