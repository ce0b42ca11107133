package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheikh-saqib/ledger-consolidation-service/internal/config"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/events/kafka"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/events/memory"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/events/redis"
	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
	memstore "github.com/sheikh-saqib/ledger-consolidation-service/internal/storage/memory"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/storage/postgres"
)

// ErrBrokerUnavailable is returned once every broker connection attempt failed.
var ErrBrokerUnavailable = errors.New("message broker unavailable")

type connectFunc func(ctx context.Context) (interfaces.MessageBus, error)

// OpenMessageBus builds the bus named by cfg.BusDriver. Durable buses are
// retried cfg.BrokerConnectAttempts times, cfg.BrokerConnectDelay apart.
func OpenMessageBus(ctx context.Context, cfg config.Config, log *logger.Logger) (interfaces.MessageBus, error) {
	switch cfg.BusDriver {
	case config.BusMemory:
		return memory.NewBus(log), nil
	case config.BusKafka:
		return connectWithRetry(ctx, cfg.BrokerConnectAttempts, cfg.BrokerConnectDelay, log, func(ctx context.Context) (interfaces.MessageBus, error) {
			return kafka.NewBus(ctx, kafka.Config{
				Brokers:       cfg.KafkaBrokers,
				GroupID:       cfg.KafkaGroupID,
				Concurrency:   cfg.ConsumerConcurrency,
				MaxDeliveries: cfg.MaxDeliveries,
			}, log)
		})
	case config.BusRedis:
		return connectWithRetry(ctx, cfg.BrokerConnectAttempts, cfg.BrokerConnectDelay, log, func(ctx context.Context) (interfaces.MessageBus, error) {
			return redis.NewBus(ctx, redis.Config{
				Addr:          cfg.RedisAddr,
				Group:         cfg.RedisGroup,
				MaxLen:        int64(cfg.RedisMaxLen),
				Concurrency:   cfg.ConsumerConcurrency,
				MaxDeliveries: cfg.MaxDeliveries,
			}, log)
		})
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
	}
}

func connectWithRetry(ctx context.Context, attempts int, delay time.Duration, log *logger.Logger, connect connectFunc) (interfaces.MessageBus, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		bus, err := connect(ctx)
		if err == nil {
			return bus, nil
		}
		lastErr = err
		log.Warn("broker connection failed", "attempt", attempt, "of", attempts, "error", err)
		if attempt == attempts {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, ctx.Err())
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrBrokerUnavailable, attempts, lastErr)
}

// OpenStore builds the store named by cfg.StoreDriver. The returned close
// function releases its connections.
func OpenStore(ctx context.Context, cfg config.Config) (interfaces.AggregateStore, func() error, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return memstore.NewMemoryAggregateStore(), func() error { return nil }, nil
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return postgres.NewPostgresAggregateStore(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
