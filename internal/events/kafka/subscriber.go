package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/events/delivery"
	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
)

// settleAttempts bounds the commit retries for one message. An uncommitted
// message is redelivered, which the handler tolerates.
const settleAttempts = 5

var retryPause = time.Second

// Subscribe starts cfg.Concurrency readers in the consumer group. Each reader
// handles its partitions sequentially so commits stay in offset order.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) error {
	if handler == nil {
		return errors.New("handler required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	b.cancels = append(b.cancels, cancel)
	for i := 0; i < b.cfg.Concurrency; i++ {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        b.cfg.Brokers,
			GroupID:        b.cfg.GroupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        time.Second,
			CommitInterval: 0, // synchronous commits
			StartOffset:    kafka.FirstOffset,
		})
		b.readers = append(b.readers, r)
		b.workers.Add(1)
		go b.consume(subCtx, r, topic, handler, b.log.With("topic", topic, "reader", i))
	}
	b.log.Info("subscribed", "topic", topic, "group", b.cfg.GroupID, "readers", b.cfg.Concurrency)
	return nil
}

func (b *Bus) consume(ctx context.Context, r groupReader, topic string, handler interfaces.MessageHandler, log *logger.Logger) {
	defer b.workers.Done()
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				log.Info("reader stopped")
				return
			}
			log.Error("fetch failed", "error", err)
			if !pause(ctx, retryPause) {
				return
			}
			continue
		}
		if err := b.handle(ctx, r, topic, m, handler, log); err != nil {
			if ctx.Err() != nil {
				log.Info("reader stopped, delivery left uncommitted", "offset", m.Offset, "partition", m.Partition)
				return
			}
			// a later commit on the partition covers the offset, otherwise it is redelivered
			log.Error("delivery left uncommitted", "offset", m.Offset, "partition", m.Partition, "error", err)
		}
	}
}

// handle runs handler on m and settles the message. Only a failure to settle
// is returned.
func (b *Bus) handle(ctx context.Context, r groupReader, topic string, m kafka.Message, handler interfaces.MessageHandler, log *logger.Logger) error {
	// in-flight work finishes even when the subscription is being cancelled
	work := context.WithoutCancel(ctx)

	attempt := delivery.ParseAttempt(headerValue(m.Headers, delivery.AttemptHeader))
	herr := call(work, handler, m.Value)
	decision := delivery.Decide(herr, attempt, b.cfg.MaxDeliveries)

	log = log.With("partition", m.Partition, "offset", m.Offset, "attempt", attempt)
	switch decision {
	case delivery.Requeue:
		log.Warn("handler failed, requeueing", "error", herr)
		next := kafka.Message{
			Topic:   topic,
			Key:     m.Key,
			Value:   m.Value,
			Headers: withHeader(m.Headers, delivery.AttemptHeader, delivery.FormatAttempt(attempt+1)),
		}
		if err := b.forward(ctx, next); err != nil {
			return fmt.Errorf("requeue: %w", err)
		}
	case delivery.DeadLetter:
		log.Error("handler failed, dead-lettering", "error", herr, "permanent", delivery.IsPermanent(herr))
		parked := kafka.Message{
			Topic:   delivery.DeadLetterTopic(topic),
			Key:     m.Key,
			Value:   m.Value,
			Headers: withHeader(m.Headers, delivery.ReasonHeader, herr.Error()),
		}
		if err := b.forward(ctx, parked); err != nil {
			return fmt.Errorf("dead-letter: %w", err)
		}
	}

	return b.commit(ctx, r, m, log)
}

// commit retries CommitMessages up to settleAttempts times, pausing between
// attempts until ctx is cancelled.
func (b *Bus) commit(ctx context.Context, r groupReader, m kafka.Message, log *logger.Logger) error {
	var err error
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err = r.CommitMessages(commitCtx, m)
		cancel()
		if err == nil {
			return nil
		}
		log.Warn("commit failed", "attempt", attempt, "error", err)
		if attempt < settleAttempts && !pause(ctx, retryPause) {
			break
		}
	}
	return fmt.Errorf("commit: %w", err)
}

// forward writes m, retrying until it succeeds or ctx is cancelled.
func (b *Bus) forward(ctx context.Context, m kafka.Message) error {
	for {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err := b.writer.WriteMessages(writeCtx, m)
		cancel()
		if err == nil {
			return nil
		}
		b.log.Warn("forward failed", "topic", m.Topic, "error", err)
		if !pause(ctx, retryPause) {
			return err
		}
	}
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
