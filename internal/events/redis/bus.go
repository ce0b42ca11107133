package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/events/delivery"
	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
)

const (
	fieldPayload = "payload"
	fieldKey     = "key"

	readBlock = time.Second
	// settleAttempts bounds the ack retries for one entry. An unacknowledged
	// entry stays pending and is replayed by the same consumer.
	settleAttempts = 5
	// DefaultMaxLen is the approximate length streams are trimmed to on append.
	DefaultMaxLen = 100_000
	// pending entries idle for longer than claimIdle belong to a consumer
	// that is gone and are taken over at worker start
	claimIdle = time.Minute
)

var ErrClosed = errors.New("redis bus closed")

var retryPause = time.Second

// streamClient is the part of *goredis.Client the bus uses.
type streamClient interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *goredis.StatusCmd
	XReadGroup(ctx context.Context, a *goredis.XReadGroupArgs) *goredis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *goredis.XAutoClaimArgs) *goredis.XAutoClaimCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *goredis.IntCmd
	Close() error
}

type Config struct {
	Addr  string
	Group string
	// Consumer names this process inside the group. Workers append their index.
	Consumer      string
	Concurrency   int
	MaxDeliveries int
	// MaxLen caps every stream the bus appends to, trimmed approximately.
	MaxLen int64
}

// Bus is the durable MessageBus on Redis Streams. Each topic is a stream read
// through a consumer group; entries are acknowledged only after the handler
// returned and any requeue or dead-letter append succeeded.
type Bus struct {
	cfg Config
	log *logger.Logger
	rdb streamClient

	mu      sync.Mutex
	cancels []context.CancelFunc
	closed  bool

	workers sync.WaitGroup
}

func NewBus(ctx context.Context, cfg Config, log *logger.Logger) (*Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if cfg.Group == "" {
		cfg.Group = "ledger-consolidation"
	}
	if cfg.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "consumer"
		}
		cfg.Consumer = host
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxDeliveries < 1 {
		cfg.MaxDeliveries = delivery.DefaultMaxDeliveries
	}
	if cfg.MaxLen < 1 {
		cfg.MaxLen = DefaultMaxLen
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Bus{
		cfg: cfg,
		log: log.With("service", "RedisStreamBus"),
		rdb: rdb,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, message any) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	values := map[string]any{
		fieldPayload:           raw,
		delivery.AttemptHeader: delivery.FormatAttempt(1),
	}
	if k, ok := message.(interfaces.Keyed); ok {
		values[fieldKey] = k.MessageKey()
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.rdb.XAdd(ctx, b.addArgs(topic, values)).Err()
}

// Subscribe creates the consumer group when missing and starts
// cfg.Concurrency workers reading from it.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("handler required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if err := b.rdb.XGroupCreateMkStream(ctx, topic, b.cfg.Group, "0").Err(); err != nil && !isBusyGroup(err) {
		return fmt.Errorf("redis create group: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	b.cancels = append(b.cancels, cancel)
	for i := 0; i < b.cfg.Concurrency; i++ {
		name := fmt.Sprintf("%s-%d", b.cfg.Consumer, i)
		b.workers.Add(1)
		go b.consume(subCtx, topic, name, handler, b.log.With("topic", topic, "consumer", name))
	}
	b.log.Info("subscribed", "topic", topic, "group", b.cfg.Group, "consumers", b.cfg.Concurrency)
	return nil
}

func (b *Bus) consume(ctx context.Context, topic, consumer string, handler interfaces.MessageHandler, log *logger.Logger) {
	defer b.workers.Done()

	b.claimStale(ctx, topic, consumer, log)

	// "0" replays this consumer's own unacknowledged entries, ">" reads new ones
	cursor := "0"
	for {
		if ctx.Err() != nil {
			log.Info("consumer stopped")
			return
		}
		streams, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: consumer,
			Streams:  []string{topic, cursor},
			Count:    1,
			Block:    readBlock,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopped")
				return
			}
			log.Error("read failed", "error", err)
			if !pause(ctx, retryPause) {
				return
			}
			continue
		}

		var msgs []goredis.XMessage
		for _, s := range streams {
			msgs = append(msgs, s.Messages...)
		}
		if len(msgs) == 0 && cursor == "0" {
			cursor = ">"
			continue
		}
		for _, m := range msgs {
			if err := b.handle(ctx, topic, m, handler, log); err != nil {
				if ctx.Err() != nil {
					log.Info("consumer stopped, entry left pending", "id", m.ID)
					return
				}
				log.Error("entry left pending, replaying own pending entries", "id", m.ID, "error", err)
				cursor = "0"
				break
			}
		}
	}
}

func (b *Bus) claimStale(ctx context.Context, topic, consumer string, log *logger.Logger) {
	start := "0-0"
	for {
		msgs, next, err := b.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   topic,
			Group:    b.cfg.Group,
			Consumer: consumer,
			MinIdle:  claimIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("claim stale entries failed", "error", err)
			}
			return
		}
		if len(msgs) > 0 {
			log.Info("claimed stale entries", "count", len(msgs))
		}
		if next == "0-0" || next == "" {
			return
		}
		start = next
	}
}

// handle runs handler on m and settles the entry. Only a failure to settle is
// returned.
func (b *Bus) handle(ctx context.Context, topic string, m goredis.XMessage, handler interfaces.MessageHandler, log *logger.Logger) error {
	work := context.WithoutCancel(ctx)

	payload := field(m.Values, fieldPayload)
	attempt := delivery.ParseAttempt(field(m.Values, delivery.AttemptHeader))
	herr := call(work, handler, []byte(payload))
	decision := delivery.Decide(herr, attempt, b.cfg.MaxDeliveries)

	log = log.With("id", m.ID, "attempt", attempt)
	switch decision {
	case delivery.Requeue:
		log.Warn("handler failed, requeueing", "error", herr)
		values := copyValues(m.Values)
		values[delivery.AttemptHeader] = delivery.FormatAttempt(attempt + 1)
		if err := b.append(ctx, topic, values); err != nil {
			return fmt.Errorf("requeue: %w", err)
		}
	case delivery.DeadLetter:
		log.Error("handler failed, dead-lettering", "error", herr, "permanent", delivery.IsPermanent(herr))
		values := copyValues(m.Values)
		values[delivery.ReasonHeader] = herr.Error()
		if err := b.append(ctx, delivery.DeadLetterTopic(topic), values); err != nil {
			return fmt.Errorf("dead-letter: %w", err)
		}
	}

	return b.ack(ctx, topic, m.ID, log)
}

// ack retries XACK up to settleAttempts times, pausing between attempts until
// ctx is cancelled.
func (b *Bus) ack(ctx context.Context, topic, id string, log *logger.Logger) error {
	var err error
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err = b.rdb.XAck(ackCtx, topic, b.cfg.Group, id).Err()
		cancel()
		if err == nil {
			return nil
		}
		log.Warn("ack failed", "attempt", attempt, "error", err)
		if attempt < settleAttempts && !pause(ctx, retryPause) {
			break
		}
	}
	return fmt.Errorf("ack: %w", err)
}

func (b *Bus) addArgs(stream string, values map[string]any) *goredis.XAddArgs {
	return &goredis.XAddArgs{Stream: stream, MaxLen: b.cfg.MaxLen, Approx: true, Values: values}
}

// append adds an entry to stream, retrying until it succeeds or ctx is
// cancelled.
func (b *Bus) append(ctx context.Context, stream string, values map[string]any) error {
	for {
		addCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err := b.rdb.XAdd(addCtx, b.addArgs(stream, values)).Err()
		cancel()
		if err == nil {
			return nil
		}
		b.log.Warn("append failed", "stream", stream, "error", err)
		if !pause(ctx, retryPause) {
			return err
		}
	}
}

// Close stops reading, waits for running handlers and closes the client.
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
	b.mu.Unlock()

	b.workers.Wait()
	return b.rdb.Close()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func field(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	return out
}

func call(ctx context.Context, handler interfaces.MessageHandler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ interfaces.MessageBus = (*Bus)(nil)
