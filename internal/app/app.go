package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sheikh-saqib/ledger-consolidation-service/internal/config"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/consolidation"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/consumer"
	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
)

// App holds the wired service: store, bus, consolidator and consumer.
type App struct {
	Log          *logger.Logger
	Cfg          config.Config
	Store        interfaces.AggregateStore
	Bus          interfaces.MessageBus
	Consolidator *consolidation.Consolidator
	Consumer     *consumer.Consumer

	closeStore func() error
	abandoned  atomic.Bool
}

func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	log.Info("store ready", "driver", cfg.StoreDriver)

	bus, err := OpenMessageBus(ctx, cfg, log)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("init bus: %w", err)
	}
	log.Info("bus ready", "driver", cfg.BusDriver)

	c := consolidation.NewConsolidator(store, log, consolidation.Options{
		MaxAttempts: cfg.ConflictMaxAttempts,
		Backoff:     cfg.ConflictBackoff,
		Hooks:       consolidation.NewLogHooks(log),
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		Store:        store,
		Bus:          bus,
		Consolidator: c,
		Consumer: consumer.NewConsumer(bus, c, log, consumer.Options{
			HandlerTimeout:  cfg.HandlerTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}),
		closeStore: closeStore,
	}, nil
}

// Run consumes until ctx is cancelled. The bus is closed on return.
func (a *App) Run(ctx context.Context) error {
	err := a.Consumer.Run(ctx)
	if errors.Is(err, consumer.ErrShutdownTimeout) {
		a.abandoned.Store(true)
	}
	return err
}

// Close releases the bus and the store. Closing an already closed bus is a no-op.
// After a shutdown timeout the store stays open for the handlers still running;
// process exit reclaims it.
func (a *App) Close() error {
	if a.abandoned.Load() {
		a.Log.Warn("store left open, deliveries still in flight", "in_flight", a.Consumer.InFlight())
		return nil
	}
	return errors.Join(a.Bus.Close(), a.closeStore())
}
