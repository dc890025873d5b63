package logger

import corelogger "github.com/kilianp07/dispatchsync/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger = corelogger.Nop

// New returns a Logger for the given component. The output format is chosen
// from APP_ENV and the minimum level from APP_LOG_LEVEL.
func New(component string) Logger {
	return NewZerologLogger(component)
}
