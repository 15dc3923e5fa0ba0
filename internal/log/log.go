// Package log provides the structured loggers used across the wallet.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers.
var (
	Wallet  zerolog.Logger
	Sync    zerolog.Logger
	Client  zerolog.Logger
	Signer  zerolog.Logger
	Storage zerolog.Logger
	Events  zerolog.Logger
	RPC     zerolog.Logger
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init configures the global logger. With a file, records go to the console
// (colored or JSON) and, always as JSON, to the file. The returned closer
// releases the file and is never nil.
func Init(level string, jsonOutput bool, file string) (io.Closer, error) {
	var closer io.Closer = nopCloser{}
	switch {
	case file != "":
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return closer, err
		}
		closer = f
		var console io.Writer = os.Stdout
		if !jsonOutput {
			console = consoleWriter(os.Stdout)
		}
		Logger = build(zerolog.MultiLevelWriter(console, f), level)
	case jsonOutput:
		Logger = NewJSONLogger(os.Stdout, level)
	default:
		Logger = NewConsoleLogger(os.Stdout, level)
	}
	initComponentLoggers()
	return closer, nil
}

// SetLogger replaces the global logger, e.g. with zerolog.Nop() in tests.
func SetLogger(l zerolog.Logger) {
	Logger = l
	initComponentLoggers()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return build(consoleWriter(w), level)
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return build(w, level)
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
}

func build(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

// parseLevel falls back to info for empty or unknown levels.
func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func initComponentLoggers() {
	Wallet = WithComponent("wallet")
	Sync = WithComponent("sync")
	Client = WithComponent("client")
	Signer = WithComponent("signer")
	Storage = WithComponent("storage")
	Events = WithComponent("events")
	RPC = WithComponent("rpc")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithAccount returns l annotated with an account index and alias.
func WithAccount(l zerolog.Logger, index uint32, alias string) zerolog.Logger {
	return l.With().Uint32("account", index).Str("alias", alias).Logger()
}

// Benchmark returns a func that logs the time elapsed since Benchmark was called.
func Benchmark(l zerolog.Logger, name string) func() {
	start := time.Now()
	return func() {
		l.Debug().Str("operation", name).Dur("duration", time.Since(start)).Msg("benchmark")
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
