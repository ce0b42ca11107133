package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
	"github.com/stretchr/testify/require"
)

type ping struct {
	N int `json:"n"`
}

func TestFanOutToAllHandlers(t *testing.T) {
	ctx := context.Background()
	b := NewBus(logger.NewNop())

	var wg sync.WaitGroup
	wg.Add(2)
	var got [2]atomic.Int64
	for i := range got {
		i := i
		require.NoError(t, b.Subscribe(ctx, "t", func(_ context.Context, payload []byte) error {
			defer wg.Done()
			var p ping
			if err := json.Unmarshal(payload, &p); err != nil {
				t.Error(err)
			}
			got[i].Store(int64(p.N))
			return nil
		}))
	}
	require.NoError(t, b.Subscribe(ctx, "other", func(context.Context, []byte) error {
		t.Error("wrong topic delivered")
		return nil
	}))

	require.NoError(t, b.Publish(ctx, "t", ping{N: 7}))
	wg.Wait()
	require.EqualValues(t, 7, got[0].Load())
	require.EqualValues(t, 7, got[1].Load())
	require.NoError(t, b.Close())
}

func TestHandlerFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	b := NewBus(logger.NewNop())

	var calls atomic.Int32
	require.NoError(t, b.Subscribe(ctx, "t", func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("boom")
	}))
	require.NoError(t, b.Subscribe(ctx, "t", func(context.Context, []byte) error {
		calls.Add(1)
		panic("worse")
	}))

	require.NoError(t, b.Publish(ctx, "t", ping{N: 1}))
	require.NoError(t, b.Close())
	require.EqualValues(t, 2, calls.Load(), "each handler runs once, no redelivery")
}

func TestCloseWaitsForInFlight(t *testing.T) {
	ctx := context.Background()
	b := NewBus(logger.NewNop())

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, b.Subscribe(ctx, "t", func(context.Context, []byte) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}))
	require.NoError(t, b.Publish(ctx, "t", ping{}))
	<-started

	closed := make(chan struct{})
	go func() {
		_ = b.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a handler was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-closed
	require.True(t, finished.Load())

	require.ErrorIs(t, b.Publish(ctx, "t", ping{}), ErrClosed)
	require.ErrorIs(t, b.Subscribe(ctx, "t", func(context.Context, []byte) error { return nil }), ErrClosed)
}

func TestHandlerNotCancelledWithPublisher(t *testing.T) {
	b := NewBus(logger.NewNop())
	done := make(chan error, 1)
	require.NoError(t, b.Subscribe(context.Background(), "t", func(ctx context.Context, _ []byte) error {
		time.Sleep(10 * time.Millisecond)
		done <- ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Publish(ctx, "t", ping{}))
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, b.Close())
}

func TestUnsubscribeOnContextDone(t *testing.T) {
	b := NewBus(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	require.NoError(t, b.Subscribe(ctx, "t", func(context.Context, []byte) error {
		calls.Add(1)
		return nil
	}))
	require.Equal(t, 1, b.Subscribers("t"))
	cancel()
	require.Eventually(t, func() bool { return b.Subscribers("t") == 0 }, time.Second, time.Millisecond)

	require.NoError(t, b.Publish(context.Background(), "t", ping{}))
	require.NoError(t, b.Close())
	require.Zero(t, calls.Load())
}
