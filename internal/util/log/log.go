// Package log is a thin zerolog wrapper shared by every package in this
// module: one global Logger, a Config to set it up, and key/value
// convenience helpers so call sites don't import zerolog directly.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init replaces it; packages that grab
// a reference before Init (during package-level var initialization,
// mostly) still observe later Init calls since they read through this
// package's functions rather than caching the zerolog.Logger themselves.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Config controls Init.
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	JSONOutput bool
	Output     io.Writer // defaults to os.Stderr
}

// Init reconfigures the global Logger. Called once at startup from
// cmd/pagekvd, mirroring cuemby-warren's pkg/log.Init.
func Init(cfg Config) error {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer = out
	if !cfg.JSONOutput {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return nil
}

// WithComponent returns a logger tagged with a component name, the way
// cuemby-warren's log package tags node/service/task IDs.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorker returns a logger tagged with a worker id.
func WithWorker(workerID int) zerolog.Logger {
	return Logger.With().Int("worker", workerID).Logger()
}

func kvEvent(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	return e
}

// Debug logs at debug level with alternating key/value pairs.
func Debug(msg string, kv ...interface{}) { kvEvent(Logger.Debug(), kv).Msg(msg) }

// Info logs at info level with alternating key/value pairs.
func Info(msg string, kv ...interface{}) { kvEvent(Logger.Info(), kv).Msg(msg) }

// Warn logs at warn level with alternating key/value pairs.
func Warn(msg string, kv ...interface{}) { kvEvent(Logger.Warn(), kv).Msg(msg) }

// Error logs at error level, attaching err, with alternating key/value pairs.
func Error(msg string, err error, kv ...interface{}) {
	kvEvent(Logger.Error().Err(err), kv).Msg(msg)
}
