package consolidation

import (
	"errors"
	"testing"
	"time"

	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogHooksLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := NewLogHooks(logger.NewWithCore(core))

	h.IncConflict(opApply)
	h.IncRetry(opApply)
	h.ObserveOperation(opApply, Status(nil), time.Millisecond)
	h.ObserveOperation(opApply, Status(errors.Join(ErrExhaustedRetries)), time.Millisecond)

	require.Equal(t, 4, logs.Len())
	require.Equal(t, 3, logs.FilterLevelExact(zapcore.DebugLevel).Len())
	failed := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, failed, 1)
	require.Equal(t, "exhausted", failed[0].ContextMap()["status"])
	require.Equal(t, opApply, failed[0].ContextMap()["op"])
}
