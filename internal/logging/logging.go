/*
Package logging provides structured logging for ringcoord using zerolog.

It wraps a single global zerolog.Logger with the component-tagged child
loggers the rest of the coordinator reaches for: WithComponent for a
subsystem name, and WithEndpoint/WithKeyspace/WithResponseID/WithShard for
the identifiers that recur across gossip, the write/read coordinators, and
the control plane.
*/
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger instance, set up by Init.
var Logger zerolog.Logger

// Level is a supported logging severity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init installs the global Logger per cfg. Call once at process startup.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent tags logs with the emitting subsystem (e.g. "gossip", "write-coordinator").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithEndpoint tags logs with the peer address they concern.
func WithEndpoint(endpoint string) zerolog.Logger {
	return Logger.With().Str("endpoint", endpoint).Logger()
}

// WithKeyspace tags logs with the keyspace a ring or coordinator operation touches.
func WithKeyspace(keyspace string) zerolog.Logger {
	return Logger.With().Str("keyspace", keyspace).Logger()
}

// WithResponseID tags logs with a write/read coordinator's slab key.
func WithResponseID(responseID uint64) zerolog.Logger {
	return Logger.With().Uint64("response_id", responseID).Logger()
}

// WithShard tags logs with the owning shard of a sharded component.
func WithShard(shard int) zerolog.Logger {
	return Logger.With().Int("shard", shard).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
