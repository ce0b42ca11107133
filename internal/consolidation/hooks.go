package consolidation

import (
	"time"

	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
)

// Hooks captures consolidation observability events.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}

// LogHooks reports consolidation events as log lines. Conflicts and retries
// are logged at debug level, operations that did not succeed at warn.
type LogHooks struct {
	log *logger.Logger
}

func NewLogHooks(log *logger.Logger) *LogHooks {
	return &LogHooks{log: log.With("service", "ConsolidationHooks")}
}

func (h *LogHooks) ObserveOperation(name, status string, dur time.Duration) {
	if status == Status(nil) {
		h.log.Debug("operation finished", "op", name, "status", status, "duration_ms", dur.Milliseconds())
		return
	}
	h.log.Warn("operation failed", "op", name, "status", status, "duration_ms", dur.Milliseconds())
}

func (h *LogHooks) IncConflict(name string) {
	h.log.Debug("version conflict", "op", name)
}

func (h *LogHooks) IncRetry(name string) {
	h.log.Debug("retrying after conflict", "op", name)
}

var _ Hooks = (*LogHooks)(nil)
