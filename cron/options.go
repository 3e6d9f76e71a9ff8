package cron

import (
	"fmt"
	"io"
	"time"

	"github.com/goliatone/go-automation"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser represents a cron expression parser type
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// ParseParser maps a config value to a Parser.
func ParseParser(value string) (Parser, error) {
	switch value {
	case "", "default":
		return DefaultParser, nil
	case "standard":
		return StandardParser, nil
	case "seconds":
		return SecondsParser, nil
	default:
		return DefaultParser, fmt.Errorf("unknown cron parser %q", value)
	}
}

// Option defines the functional option type for Scheduler
type Option func(*Scheduler)

// WithLocation sets the timezone location for the scheduler
func WithLocation(loc *time.Location) Option {
	return func(cs *Scheduler) {
		cs.location = loc
	}
}

// WithLogger sets a custom logger for the scheduler
func WithLogger(logger automation.Logger) Option {
	return func(cs *Scheduler) {
		cs.logger = logger
	}
}

// WithLogWriter sets a custom writer for logging
func WithLogWriter(writer io.Writer) Option {
	return func(cs *Scheduler) {
		cs.logWriter = writer
	}
}

// WithLogLevel sets the logging level
func WithLogLevel(level LogLevel) Option {
	return func(cs *Scheduler) {
		cs.logLevel = level
	}
}

// WithErrorHandler sets a custom error handler for the scheduler
func WithErrorHandler(handler func(error)) Option {
	return func(cs *Scheduler) {
		if handler != nil {
			cs.errorHandler = handler
		}
	}
}

// WithParser sets the type of cron expression parser to use
func WithParser(p Parser) Option {
	return func(cs *Scheduler) {
		cs.parser = p
	}
}

// WithJobTimeout bounds a single scheduled run. Zero means no bound.
func WithJobTimeout(d time.Duration) Option {
	return func(cs *Scheduler) {
		cs.jobTimeout = d
	}
}

// WithClock overrides the time source for tick timestamps and one-shot jobs.
func WithClock(now func() time.Time) Option {
	return func(cs *Scheduler) {
		if now != nil {
			cs.now = now
		}
	}
}

// loggerAdapter adapts the engine Logger to robfig/cron's logger
type loggerAdapter struct {
	logger automation.Logger
	level  LogLevel
}

func (l *loggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	if l.level >= LogLevelInfo {
		automation.WithLoggerFields(l.logger, kvFields(keysAndValues)).Info("cron: %s", msg)
	}
}

func (l *loggerAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.level >= LogLevelError {
		automation.WithLoggerFields(l.logger, kvFields(keysAndValues)).Error("cron: %s: %v", msg, err)
	}
}

func kvFields(kv []interface{}) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}

// errorHandlerAdapter adapts a simple error handler function to implement cron.Logger
type errorHandlerAdapter struct {
	handler func(error)
}

func (e *errorHandlerAdapter) Info(msg string, args ...interface{}) {
	// Info messages are ignored for error handler
}

func (e *errorHandlerAdapter) Error(err error, msg string, args ...interface{}) {
	if e.handler != nil {
		if err != nil {
			e.handler(err)
		} else {
			e.handler(fmt.Errorf("%s", msg))
		}
	}
}
