package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sheikh-saqib/ledger-consolidation-service/internal/consolidation"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/events/delivery"
	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models/events"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
)

const (
	DefaultHandlerTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// ErrShutdownTimeout is returned by Run when deliveries were still running
// once ShutdownTimeout elapsed. Their handlers may still use the store.
var ErrShutdownTimeout = errors.New("consumer shutdown timed out")

// Applier applies one ledger entry event to the daily aggregates.
type Applier interface {
	Apply(ctx context.Context, evt events.LedgerEntryCreated) error
}

type Options struct {
	// HandlerTimeout bounds a single delivery.
	HandlerTimeout time.Duration
	// ShutdownTimeout bounds how long Run waits for in-flight deliveries.
	ShutdownTimeout time.Duration
}

// Consumer feeds LedgerEntryCreated deliveries from the bus into the applier.
type Consumer struct {
	bus     interfaces.MessageBus
	applier Applier
	log     *logger.Logger
	opts    Options

	inflight atomic.Int64
}

func NewConsumer(bus interfaces.MessageBus, applier Applier, log *logger.Logger, opts Options) *Consumer {
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Consumer{
		bus:     bus,
		applier: applier,
		log:     log.With("service", "LedgerConsumer"),
		opts:    opts,
	}
}

// Run subscribes and blocks until ctx is cancelled, then closes the bus,
// waiting at most ShutdownTimeout for in-flight deliveries.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.bus.Subscribe(ctx, events.TopicLedgerEntryCreated, c.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.TopicLedgerEntryCreated, err)
	}
	c.log.Info("consumer started", "topic", events.TopicLedgerEntryCreated)

	<-ctx.Done()
	c.log.Info("consumer stopping")

	closed := make(chan error, 1)
	go func() { closed <- c.bus.Close() }()

	timer := time.NewTimer(c.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-closed:
		if err != nil {
			return fmt.Errorf("close bus: %w", err)
		}
		c.log.Info("consumer stopped")
		return nil
	case <-timer.C:
		n := c.InFlight()
		c.log.Warn("abandoning in-flight deliveries", "in_flight", n, "timeout", c.opts.ShutdownTimeout)
		return fmt.Errorf("%w: %d in-flight deliveries still running after %s", ErrShutdownTimeout, n, c.opts.ShutdownTimeout)
	}
}

// InFlight reports the deliveries currently inside Handle.
func (c *Consumer) InFlight() int64 {
	return c.inflight.Load()
}

// Handle processes one delivery. Errors marked permanent are dead-lettered by
// durable buses; any other error is redelivered.
func (c *Consumer) Handle(ctx context.Context, payload []byte) error {
	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	var evt events.LedgerEntryCreated
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.log.Error("malformed ledger entry event", "error", err)
		return delivery.Permanent(fmt.Errorf("decode %s: %w", events.TopicLedgerEntryCreated, err))
	}

	log := c.log.With("event_id", evt.ID.String(), "date", evt.Date.String())
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.HandlerTimeout)
	defer cancel()

	start := time.Now()
	err := c.applier.Apply(ctx, evt)
	switch {
	case err == nil:
		log.Debug("ledger entry consolidated", "elapsed", time.Since(start))
		return nil
	case errors.Is(err, consolidation.ErrValidation):
		log.Warn("ledger entry rejected", "error", err)
		return delivery.Permanent(err)
	default:
		log.Error("ledger entry failed", "status", consolidation.Status(err), "error", err)
		return err
	}
}
