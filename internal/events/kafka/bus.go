package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/events/delivery"
	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("kafka bus closed")

// groupReader is the part of *kafka.Reader the subscriber uses.
type groupReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the bus uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	GroupID string
	// Concurrency is the number of group readers started per subscription.
	Concurrency   int
	MaxDeliveries int
}

// Bus is the durable MessageBus on Kafka. Offsets are committed only after
// the handler returned and any requeue or dead-letter write succeeded.
type Bus struct {
	cfg    Config
	log    *logger.Logger
	writer messageWriter

	mu      sync.Mutex
	readers []groupReader
	cancels []context.CancelFunc
	closed  bool

	workers sync.WaitGroup
}

// NewBus dials the brokers once to fail fast when none is reachable.
func NewBus(ctx context.Context, cfg Config, log *logger.Logger) (*Bus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxDeliveries < 1 {
		cfg.MaxDeliveries = delivery.DefaultMaxDeliveries
	}
	if err := ping(ctx, cfg.Brokers); err != nil {
		return nil, err
	}

	return &Bus{
		cfg: cfg,
		log: log.With("service", "KafkaBus"),
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func ping(ctx context.Context, brokers []string) error {
	var errs []error
	for _, addr := range brokers {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		conn, err := kafka.DialContext(dialCtx, "tcp", addr)
		cancel()
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, fmt.Errorf("dial %s: %w", addr, err))
	}
	return errors.Join(errs...)
}

func (b *Bus) Publish(ctx context.Context, topic string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	var key []byte
	if k, ok := message.(interfaces.Keyed); ok {
		key = []byte(k.MessageKey())
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   data,
		Headers: []kafka.Header{{Key: delivery.AttemptHeader, Value: []byte(delivery.FormatAttempt(1))}},
	})
}

// Close stops fetching, waits for the handlers that are running, then closes
// the readers and the writer.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, cancel := range b.cancels {
		cancel()
	}
	readers := b.readers
	b.mu.Unlock()

	b.workers.Wait()

	var g errgroup.Group
	for _, r := range readers {
		g.Go(r.Close)
	}
	return errors.Join(g.Wait(), b.writer.Close())
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// withHeader returns a copy of headers with key set to value.
func withHeader(headers []kafka.Header, key, value string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: key, Value: []byte(value)})
}

var _ interfaces.MessageBus = (*Bus)(nil)
