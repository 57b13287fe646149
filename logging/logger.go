package logging

import (
	"context"
)

// Logger is the structured logger handed to the model, the trainer and the RPC surface. The
// `w` forms take alternating keys and values.
type Logger interface {
	Debug(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	// CDebugw also logs when ctx was put in debug mode with EnableDebugMode, whatever the level.
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	SetLevel(level Level)
	GetLevel() Level

	// Sublogger returns a new logger named "<parent>.<subname>" that shares the parent's
	// appenders.
	Sublogger(subname string) Logger
	AddAppender(appender Appender)
	Sync() error
}

var _ Logger = &impl{}
