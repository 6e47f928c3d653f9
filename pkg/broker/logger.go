package broker

// Logger is the narrow logging seam pkg/broker depends on, mirroring
// the event-chaining style used across this module's sibling packages
// so callers can plug in a zerolog-backed implementation without this
// package importing it directly.
type Logger interface {
	Debug() LogEvent
	Info() LogEvent
	Warn() LogEvent
	Error() LogEvent
}

// LogEvent is a single chained log statement.
type LogEvent interface {
	Str(key, value string) LogEvent
	Uint16(key string, value uint16) LogEvent
	Int(key string, value int) LogEvent
	Err(err error) LogEvent
	Msg(msg string)
}

// NopLogger discards every log statement. It is the default Logger
// when none is supplied via WithLogger.
type NopLogger struct{}

func (NopLogger) Debug() LogEvent { return nopEvent{} }
func (NopLogger) Info() LogEvent  { return nopEvent{} }
func (NopLogger) Warn() LogEvent  { return nopEvent{} }
func (NopLogger) Error() LogEvent { return nopEvent{} }

type nopEvent struct{}

func (nopEvent) Str(string, string) LogEvent        { return nopEvent{} }
func (nopEvent) Uint16(string, uint16) LogEvent      { return nopEvent{} }
func (nopEvent) Int(string, int) LogEvent            { return nopEvent{} }
func (nopEvent) Err(error) LogEvent                  { return nopEvent{} }
func (nopEvent) Msg(string)                          {}
