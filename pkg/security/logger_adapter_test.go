package security

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

func TestZapLoggerAdapter_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core)).Named("refund")

	logger.Warn("Refund lock busy",
		ports.String("provider", "stripe"),
		ports.Duration("waited", 2*time.Second),
		ports.Err(errors.New("lock held")),
		ports.Bool("retryable", true),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "refund", entry.LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, "stripe", fields["provider"])
	assert.Equal(t, 2*time.Second, fields["waited"])
	assert.Equal(t, "lock held", fields["error"])
	assert.Equal(t, true, fields["retryable"])
}

func TestNewZapLogger_NilIsNop(t *testing.T) {
	assert.NotPanics(t, func() {
		NewZapLogger(nil).Info("dropped")
	})
}
