package infrastructure

import (
	"os"
	"time"

	"github.com/architeacher/amqp-broker/internal/config"
	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger behind the narrow event-chaining shape
// pkg/broker.Logger expects, so the broker core never imports zerolog
// directly. Grounded on the chaining seam in the teacher's
// pkg/queue/logger.go/logger_adapter.go.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger builds a Logger from LoggingConfig, writing JSON to stdout
// unless format is "console", in which case it uses zerolog's
// human-readable console writer.
func NewLogger(cfg config.LoggingConfig) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	w := os.Stdout

	var zl zerolog.Logger
	if cfg.Format == "console" {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).Level(level).With().Timestamp().Logger()
	} else {
		zl = zerolog.New(w).Level(level).With().Timestamp().Logger()
	}

	return &Logger{zl: zl}
}

func (l *Logger) Debug() broker.LogEvent { return event{l.zl.Debug()} }
func (l *Logger) Info() broker.LogEvent  { return event{l.zl.Info()} }
func (l *Logger) Warn() broker.LogEvent  { return event{l.zl.Warn()} }
func (l *Logger) Error() broker.LogEvent { return event{l.zl.Error()} }

// Fatal logs and exits the process, used outside the broker.Logger seam
// for startup failures (config errors, listener bind failures).
func (l *Logger) Fatal() event { return event{l.zl.Fatal()} }

// event adapts *zerolog.Event to the chaining signatures pkg/broker.LogEvent
// requires, returning itself by value so the chain keeps flowing through
// the same underlying *zerolog.Event.
type event struct {
	e *zerolog.Event
}

func (ev event) Str(key, value string) broker.LogEvent {
	ev.e.Str(key, value)

	return ev
}

func (ev event) Uint16(key string, value uint16) broker.LogEvent {
	ev.e.Uint16(key, value)

	return ev
}

func (ev event) Int(key string, value int) broker.LogEvent {
	ev.e.Int(key, value)

	return ev
}

func (ev event) Err(err error) broker.LogEvent {
	ev.e.Err(err)

	return ev
}

func (ev event) Msg(msg string) {
	ev.e.Msg(msg)
}
