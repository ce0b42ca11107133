package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
)

var ErrClosed = errors.New("memory bus closed")

type subscription struct {
	id      uint64
	handler interfaces.MessageHandler
}

// Bus fans every published message out to all handlers of its topic, each on
// its own goroutine. Handler failures are logged and dropped: there is no
// redelivery in process.
type Bus struct {
	log *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	closed   bool

	inflight sync.WaitGroup
}

func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		log:      log.With("service", "MemoryBus"),
		handlers: make(map[string][]subscription),
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	subs := b.handlers[topic]
	if len(subs) == 0 {
		b.log.Debug("no subscribers, message discarded", "topic", topic)
		return nil
	}

	// handlers outlive the publisher's request
	hctx := context.WithoutCancel(ctx)
	for _, sub := range subs {
		b.inflight.Add(1)
		go b.deliver(hctx, topic, sub.handler, payload)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, topic string, h interfaces.MessageHandler, payload []byte) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked", "topic", topic, "panic", r)
		}
	}()
	if err := h(ctx, payload); err != nil {
		b.log.Error("handler failed, message dropped", "topic", topic, "error", err)
	}
}

func (b *Bus) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) error {
	if handler == nil {
		return errors.New("handler required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: handler})

	context.AfterFunc(ctx, func() { b.unsubscribe(topic, id) })
	b.log.Info("subscribed", "topic", topic)
	return nil
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Subscribers reports how many handlers are registered for topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Close rejects further publishes and waits for running handlers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = make(map[string][]subscription)
	b.mu.Unlock()

	b.inflight.Wait()
	return nil
}

var _ interfaces.MessageBus = (*Bus)(nil)
