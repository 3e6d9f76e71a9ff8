package main

import (
	"context"
	"io"
	"strings"

	"github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-automation"
)

// glogLogger adapts a go-logger logger to the engine Logger.
type glogLogger struct {
	logger glog.Logger
}

func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogLogger) WithContext(ctx context.Context) automation.Logger {
	if l.logger == nil {
		return automation.NewFmtLogger(nil).WithContext(ctx)
	}
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) automation.Logger {
	if l.logger == nil {
		return automation.NewFmtLogger(nil).WithFields(fields)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

func newLogger(level, format string, out io.Writer) automation.Logger {
	if level == "" {
		level = "info"
	}
	var base glog.Logger
	if strings.EqualFold(format, "json") {
		base = glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(level),
		)
	} else {
		base = glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLevel(level),
		)
	}
	return glogLogger{logger: base}
}
