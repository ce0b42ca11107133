package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevelOverride(t *testing.T) {
	log, err := New("production", "warn")
	require.NoError(t, err)
	require.False(t, log.SugaredLogger.Desugar().Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.SugaredLogger.Desugar().Core().Enabled(zapcore.WarnLevel))

	log, err = New("development", "")
	require.NoError(t, err)
	require.True(t, log.SugaredLogger.Desugar().Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("production", "loud")
	require.Error(t, err)
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewWithCore(core).With("service", "Test")

	log.Info("hello", "n", 1)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "hello", entry.Message)
	require.Equal(t, map[string]interface{}{"service": "Test", "n": int64(1)}, entry.ContextMap())
}
