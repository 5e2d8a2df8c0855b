// Package logger defines the logging contract used by the mapping engine and
// ships adapters for zerolog (the default), zap and logrus.
package logger

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound redeclared here so adapters can suppress not-found noise
// without importing the root package
var ErrRecordNotFound = errors.New("record not found")

// LogLevel log level
type LogLevel int

const (
	// Silent silent log level
	Silent LogLevel = iota + 1
	// Error error log level
	Error
	// Warn warn log level
	Warn
	// Info info log level
	Info
)

// Config logger config
type Config struct {
	SlowThreshold             time.Duration
	IgnoreRecordNotFoundError bool
	LogLevel                  LogLevel
}

// Interface logger interface. Trace is invoked once per storage operation
// with a callback producing the operation summary and affected row count.
type Interface interface {
	LogMode(LogLevel) Interface
	Info(ctx context.Context, msg string, data ...interface{})
	Warn(ctx context.Context, msg string, data ...interface{})
	Error(ctx context.Context, msg string, data ...interface{})
	Trace(ctx context.Context, begin time.Time, fc func() (op string, rows int64), err error)
}

// Default logger used when Config.Logger is nil
var Default = NewZerologLoggerWithConfig(Config{
	SlowThreshold:             200 * time.Millisecond,
	LogLevel:                  Warn,
	IgnoreRecordNotFoundError: false,
})

// Discard drops everything
var Discard = discardLogger{}

type discardLogger struct{}

func (l discardLogger) LogMode(LogLevel) Interface                            { return l }
func (discardLogger) Info(context.Context, string, ...interface{})            {}
func (discardLogger) Warn(context.Context, string, ...interface{})            {}
func (discardLogger) Error(context.Context, string, ...interface{})           {}
func (discardLogger) Trace(context.Context, time.Time, func() (string, int64), error) {
}
