package logger

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relmap/relmap/utils"
)

// LogrusLogger implements Interface using logrus
type LogrusLogger struct {
	Logger                    *logrus.Logger
	LogLevel                  LogLevel
	SlowThreshold             time.Duration
	IgnoreRecordNotFoundError bool
}

// NewLogrusLogger creates a new logger using logrus
func NewLogrusLogger(logger *logrus.Logger, config Config) Interface {
	return &LogrusLogger{
		Logger:                    logger,
		LogLevel:                  config.LogLevel,
		SlowThreshold:             config.SlowThreshold,
		IgnoreRecordNotFoundError: config.IgnoreRecordNotFoundError,
	}
}

// LogMode sets the log level
func (l *LogrusLogger) LogMode(level LogLevel) Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info logs info messages
func (l *LogrusLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		l.entry(ctx, data).Info(msg)
	}
}

// Warn logs warning messages
func (l *LogrusLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		l.entry(ctx, data).Warn(msg)
	}
}

// Error logs error messages
func (l *LogrusLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		l.entry(ctx, data).Error(msg)
	}
}

// Trace logs storage operation details
func (l *LogrusLogger) Trace(ctx context.Context, begin time.Time, fc func() (op string, rows int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	op, rows := fc()

	entry := l.Logger.WithContext(ctx).WithFields(logrus.Fields{
		"file":     utils.FileWithLineNum(),
		"duration": elapsed,
		"op":       op,
	})
	if rows != -1 {
		entry = entry.WithField("rows", rows)
	}

	switch {
	case err != nil && l.LogLevel >= Error && (!l.IgnoreRecordNotFoundError || !errors.Is(err, ErrRecordNotFound)):
		entry.WithError(err).Error("storage operation")
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= Warn:
		entry.WithField("slow_threshold", l.SlowThreshold).Warn("storage operation")
	case l.LogLevel >= Info:
		entry.Info("storage operation")
	}
}

func (l *LogrusLogger) entry(ctx context.Context, data []interface{}) *logrus.Entry {
	entry := l.Logger.WithContext(ctx).WithField("file", utils.FileWithLineNum())
	if len(data) > 0 {
		entry = entry.WithField("data", data)
	}
	return entry
}
