package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/events/delivery"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestField(t *testing.T) {
	values := map[string]any{"s": "a", "b": []byte("b"), "n": 3}
	require.Equal(t, "a", field(values, "s"))
	require.Equal(t, "b", field(values, "b"))
	require.Equal(t, "3", field(values, "n"))
	require.Equal(t, "", field(values, "missing"))
}

func TestCopyValues(t *testing.T) {
	in := map[string]any{delivery.AttemptHeader: "1"}
	out := copyValues(in)
	out[delivery.AttemptHeader] = "2"
	require.Equal(t, "1", in[delivery.AttemptHeader])
}

func TestIsBusyGroup(t *testing.T) {
	require.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	require.False(t, isBusyGroup(errors.New("ERR no such key")))
	require.False(t, isBusyGroup(nil))
}

func TestNewBusRequiresAddr(t *testing.T) {
	_, err := NewBus(context.Background(), Config{}, logger.NewNop())
	require.Error(t, err)
}

// fakeStream keeps one stream and one consumer group in memory. New entries
// move to the pending list when read with ">" and leave it when acknowledged.
type fakeStream struct {
	failAcks atomic.Int32

	mu      sync.Mutex
	fresh   []goredis.XMessage
	pending []goredis.XMessage
	added   []*goredis.XAddArgs
	acked   []string
}

func (f *fakeStream) XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, a)
	return goredis.NewStringResult("1-0", nil)
}

func (f *fakeStream) XGroupCreateMkStream(context.Context, string, string, string) *goredis.StatusCmd {
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *goredis.XReadGroupArgs) *goredis.XStreamSliceCmd {
	f.mu.Lock()
	if a.Streams[1] == "0" {
		var msgs []goredis.XMessage
		if len(f.pending) > 0 {
			msgs = f.pending[:1:1]
		}
		f.mu.Unlock()
		return goredis.NewXStreamSliceCmdResult([]goredis.XStream{{Stream: a.Streams[0], Messages: msgs}}, nil)
	}
	if len(f.fresh) == 0 {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return goredis.NewXStreamSliceCmdResult(nil, ctx.Err())
		case <-time.After(time.Millisecond):
			return goredis.NewXStreamSliceCmdResult(nil, goredis.Nil)
		}
	}
	m := f.fresh[0]
	f.fresh = f.fresh[1:]
	f.pending = append(f.pending, m)
	f.mu.Unlock()
	return goredis.NewXStreamSliceCmdResult([]goredis.XStream{{Stream: a.Streams[0], Messages: []goredis.XMessage{m}}}, nil)
}

func (f *fakeStream) XAutoClaim(ctx context.Context, _ *goredis.XAutoClaimArgs) *goredis.XAutoClaimCmd {
	cmd := goredis.NewXAutoClaimCmd(ctx)
	cmd.SetVal(nil, "0-0")
	return cmd
}

func (f *fakeStream) XAck(_ context.Context, _, _ string, ids ...string) *goredis.IntCmd {
	if f.failAcks.Add(-1) >= 0 {
		return goredis.NewIntResult(0, errors.New("i/o timeout"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.acked = append(f.acked, id)
		for i, m := range f.pending {
			if m.ID == id {
				f.pending = append(f.pending[:i:i], f.pending[i+1:]...)
				break
			}
		}
	}
	return goredis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) snapshot() (acked []string, pending int, added []*goredis.XAddArgs) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...), len(f.pending), append([]*goredis.XAddArgs(nil), f.added...)
}

func entryOf(id, payload string) goredis.XMessage {
	return goredis.XMessage{ID: id, Values: map[string]any{fieldPayload: payload, delivery.AttemptHeader: "1"}}
}

func withShortPause(t *testing.T) {
	t.Helper()
	prev := retryPause
	retryPause = time.Millisecond
	t.Cleanup(func() { retryPause = prev })
}

func TestConsumerSurvivesFailedAcks(t *testing.T) {
	withShortPause(t)
	fake := &fakeStream{fresh: []goredis.XMessage{entryOf("1-0", `{"n":1}`), entryOf("2-0", `{"n":2}`)}}
	fake.failAcks.Store(settleAttempts)
	b := &Bus{cfg: Config{Group: "g", MaxDeliveries: 5, MaxLen: 10}, log: logger.NewNop(), rdb: fake}

	var mu sync.Mutex
	var seen []string
	ctx, cancel := context.WithCancel(context.Background())
	b.workers.Add(1)
	go b.consume(ctx, "t", "c-0", func(_ context.Context, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(payload))
		return nil
	}, logger.NewNop())

	require.Eventually(t, func() bool {
		acked, pending, _ := fake.snapshot()
		return len(acked) == 2 && pending == 0
	}, 5*time.Second, time.Millisecond)

	cancel()
	b.workers.Wait()

	acked, _, _ := fake.snapshot()
	require.Equal(t, []string{"1-0", "2-0"}, acked)
	mu.Lock()
	defer mu.Unlock()
	// the first entry is replayed once its ack gave up, then the next entry is read
	require.Equal(t, []string{`{"n":1}`, `{"n":1}`, `{"n":2}`}, seen)
}

func TestAckRetriesTransientFailure(t *testing.T) {
	withShortPause(t)
	fake := &fakeStream{}
	fake.failAcks.Store(2)
	b := &Bus{cfg: Config{Group: "g"}, log: logger.NewNop(), rdb: fake}

	require.NoError(t, b.ack(context.Background(), "t", "9-0", logger.NewNop()))
	acked, _, _ := fake.snapshot()
	require.Equal(t, []string{"9-0"}, acked)
}

func TestAppendsAreTrimmed(t *testing.T) {
	fake := &fakeStream{}
	b := &Bus{cfg: Config{Group: "g", MaxDeliveries: 5, MaxLen: 1000}, log: logger.NewNop(), rdb: fake}

	require.NoError(t, b.Publish(context.Background(), "t", map[string]int{"n": 1}))
	require.NoError(t, b.handle(context.Background(), "t", entryOf("1-0", `{}`), func(context.Context, []byte) error {
		return delivery.Permanent(errors.New("malformed"))
	}, logger.NewNop()))

	_, _, added := fake.snapshot()
	require.Len(t, added, 2)
	require.Equal(t, "t", added[0].Stream)
	require.Equal(t, delivery.DeadLetterTopic("t"), added[1].Stream)
	for _, a := range added {
		require.EqualValues(t, 1000, a.MaxLen)
		require.True(t, a.Approx)
	}
}

func testAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestRedisDelivery(t *testing.T) {
	addr := testAddr(t)
	ctx := context.Background()
	topic := "test-" + uuid.NewString()

	b, err := NewBus(ctx, Config{Addr: addr, Group: topic, Concurrency: 2, MaxDeliveries: 3}, logger.NewNop())
	require.NoError(t, err)
	defer b.Close()

	got := make(chan []byte, 1)
	require.NoError(t, b.Subscribe(ctx, topic, func(_ context.Context, payload []byte) error {
		got <- payload
		return nil
	}))
	require.NoError(t, b.Publish(ctx, topic, map[string]int{"n": 1}))

	select {
	case payload := <-got:
		require.JSONEq(t, `{"n":1}`, string(payload))
	case <-time.After(10 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestRedisRequeueThenDeadLetter(t *testing.T) {
	addr := testAddr(t)
	ctx := context.Background()
	topic := "test-" + uuid.NewString()

	b, err := NewBus(ctx, Config{Addr: addr, Group: topic, Concurrency: 1, MaxDeliveries: 3}, logger.NewNop())
	require.NoError(t, err)
	defer b.Close()

	var calls atomic.Int32
	require.NoError(t, b.Subscribe(ctx, topic, func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("always failing")
	}))
	parked := make(chan []byte, 1)
	require.NoError(t, b.Subscribe(ctx, delivery.DeadLetterTopic(topic), func(_ context.Context, payload []byte) error {
		parked <- payload
		return nil
	}))

	require.NoError(t, b.Publish(ctx, topic, map[string]int{"n": 2}))

	select {
	case payload := <-parked:
		require.JSONEq(t, `{"n":2}`, string(payload))
	case <-time.After(20 * time.Second):
		t.Fatalf("message not dead-lettered, %d calls", calls.Load())
	}
	require.EqualValues(t, 3, calls.Load())
}

func TestRedisPermanentFailureSkipsRetries(t *testing.T) {
	addr := testAddr(t)
	ctx := context.Background()
	topic := "test-" + uuid.NewString()

	b, err := NewBus(ctx, Config{Addr: addr, Group: topic, Concurrency: 1}, logger.NewNop())
	require.NoError(t, err)
	defer b.Close()

	var calls atomic.Int32
	require.NoError(t, b.Subscribe(ctx, topic, func(context.Context, []byte) error {
		calls.Add(1)
		return delivery.Permanent(errors.New("malformed"))
	}))
	parked := make(chan struct{}, 1)
	require.NoError(t, b.Subscribe(ctx, delivery.DeadLetterTopic(topic), func(context.Context, []byte) error {
		parked <- struct{}{}
		return nil
	}))

	require.NoError(t, b.Publish(ctx, topic, map[string]int{"n": 3}))
	select {
	case <-parked:
	case <-time.After(10 * time.Second):
		t.Fatal("message not dead-lettered")
	}
	require.EqualValues(t, 1, calls.Load())
}
