package logger_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/relmap/relmap/logger"
)

func traceFn(op string, rows int64) func() (string, int64) {
	return func() (string, int64) { return op, rows }
}

func TestZerologTraceLevels(t *testing.T) {
	ctx := context.Background()

	newLogger := func(config logger.Config) (logger.Interface, *bytes.Buffer) {
		var buf bytes.Buffer
		return logger.NewZerologLogger(zerolog.New(&buf), config), &buf
	}

	t.Run("errors are logged at error level", func(t *testing.T) {
		l, buf := newLogger(logger.Config{LogLevel: logger.Error})
		l.Trace(ctx, time.Now(), traceFn("fetch members", 0), errors.New("boom"))
		assert.Contains(t, buf.String(), `"level":"error"`)
		assert.Contains(t, buf.String(), "fetch members")
		assert.Contains(t, buf.String(), "boom")
	})

	t.Run("slow operations warn", func(t *testing.T) {
		l, buf := newLogger(logger.Config{LogLevel: logger.Warn, SlowThreshold: time.Millisecond})
		l.Trace(ctx, time.Now().Add(-time.Second), traceFn("fetch members", 3), nil)
		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), "slow_threshold")
	})

	t.Run("successful operations only at info", func(t *testing.T) {
		l, buf := newLogger(logger.Config{LogLevel: logger.Warn})
		l.Trace(ctx, time.Now(), traceFn("fetch members", 3), nil)
		assert.Empty(t, buf.String())

		l, buf = newLogger(logger.Config{LogLevel: logger.Info})
		l.Trace(ctx, time.Now(), traceFn("fetch members", 3), nil)
		assert.Contains(t, buf.String(), `"rows":3`)
	})

	t.Run("silent drops everything", func(t *testing.T) {
		l, buf := newLogger(logger.Config{LogLevel: logger.Silent})
		l.Trace(ctx, time.Now(), traceFn("fetch members", 3), errors.New("boom"))
		l.Info(ctx, "hello")
		assert.Empty(t, buf.String())
	})

	t.Run("not-found suppression", func(t *testing.T) {
		l, buf := newLogger(logger.Config{LogLevel: logger.Error, IgnoreRecordNotFoundError: true})
		l.Trace(ctx, time.Now(), traceFn("fetch members", 0), logger.ErrRecordNotFound)
		assert.Empty(t, buf.String())
	})
}

func TestLogModeReturnsIndependentLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logger.NewZerologLogger(zerolog.New(&buf), logger.Config{LogLevel: logger.Silent})

	verbose := base.LogMode(logger.Info)
	verbose.Info(context.Background(), "visible")
	assert.Contains(t, buf.String(), "visible")

	buf.Reset()
	base.Info(context.Background(), "invisible")
	assert.Empty(t, buf.String())
}

func TestLogrusAdapter(t *testing.T) {
	var buf bytes.Buffer
	ll := logrus.New()
	ll.SetOutput(&buf)
	ll.SetFormatter(&logrus.JSONFormatter{})

	l := logger.NewLogrusLogger(ll, logger.Config{LogLevel: logger.Info})
	l.Trace(context.Background(), time.Now(), traceFn("insert teams", 1), nil)
	assert.Contains(t, buf.String(), "storage operation")
	assert.Contains(t, buf.String(), "insert teams")

	buf.Reset()
	l.Warn(context.Background(), "careful")
	assert.Contains(t, buf.String(), "careful")
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := logger.NewZapLogger(zap.New(core), logger.Config{LogLevel: logger.Info})

	l.Trace(context.Background(), time.Now(), traceFn("delete members", 2), nil)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "storage operation", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "delete members", fields["op"])
	assert.Equal(t, int64(2), fields["rows"])
}

func TestDiscardLogger(t *testing.T) {
	// must be safe to call with a nil context and never panic
	logger.Discard.Info(nil, "ignored")
	logger.Discard.Trace(nil, time.Now(), traceFn("x", -1), errors.New("boom"))
	assert.Equal(t, logger.Discard, logger.Discard.LogMode(logger.Info))
}
