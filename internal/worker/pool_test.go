package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/memory"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/storetest"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub/pubsubtest"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/indexing"
	"github.com/syntrixbase/searchindexer/internal/retry"
	"github.com/syntrixbase/searchindexer/internal/worker/config"
)

type handlerFunc func(ctx context.Context, ev events.StoredEvent) (events.ProcessingState, error)

func (f handlerFunc) Handle(ctx context.Context, ev events.StoredEvent) (events.ProcessingState, error) {
	return f(ctx, ev)
}

type chanConsumer struct {
	ch chan pubsub.Message
}

func (c *chanConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	out := make(chan pubsub.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Workers = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HandleTimeout = time.Second
	return cfg
}

func fastRetrier(t *testing.T) *retry.Retrier {
	t.Helper()
	r, err := retry.New(2, 0, nil, nil)
	require.NoError(t, err)
	return r
}

func newPool(t *testing.T, s eventstore.Store, h Handler, cfg config.Config, opts ...Option) *Pool {
	t.Helper()
	opts = append([]Option{WithRetrier(fastRetrier(t))}, opts...)
	p, err := New(s, h, cfg, nil, opts...)
	require.NoError(t, err)
	return p
}

func put(t *testing.T, s eventstore.Store, key string, ms int64, state events.ProcessingState) events.StoredEvent {
	t.Helper()
	e := storetest.Event(key, ms)
	e.ObjectID = key
	ev, err := s.Store(context.Background(), "", e, state)
	require.NoError(t, err)
	return ev
}

func current(s eventstore.Store, id events.EventID) events.StoredEvent {
	ev, _ := s.Get(context.Background(), id)
	return ev
}

func stopPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, handlerFunc(nil), testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Workers = 0
	_, err = New(memory.New(), handlerFunc(nil), cfg, nil)
	assert.Error(t, err)

	p, err := New(memory.New(), handlerFunc(nil), testConfig(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID())
}

func TestPool_IndexesReadyEvents(t *testing.T) {
	s := memory.New()
	idx := indexing.NewMemoryStorage()
	h := indexing.NewHandler(idx, nil, nil)
	a := put(t, s, "a", 1000, events.StateReady)
	b := put(t, s, "b", 2000, events.StateReady)
	pending := put(t, s, "c", 3000, events.StateUnprocessed)

	p := newPool(t, s, h, testConfig())
	require.NoError(t, p.Start(context.Background()))
	defer stopPool(t, p)
	assert.Error(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		return current(s, a.ID).State == events.StateIndexed &&
			current(s, b.ID).State == events.StateIndexed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, events.StateUnprocessed, current(s, pending.ID).State, "only READY events are claimed")

	docs, err := idx.Search(context.Background(), indexing.Query{AccessGroupIDs: []int64{1}})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestPool_HandlerErrorMarksFailed(t *testing.T) {
	s := memory.New()
	ev := put(t, s, "a", 1000, events.StateReady)
	h := handlerFunc(func(context.Context, events.StoredEvent) (events.ProcessingState, error) {
		return events.StateIndexed, errors.New("index unavailable")
	})

	p := newPool(t, s, h, testConfig())
	require.NoError(t, p.Start(context.Background()))
	defer stopPool(t, p)

	require.Eventually(t, func() bool {
		return current(s, ev.ID).State == events.StateFailed
	}, time.Second, 5*time.Millisecond)
	got := current(s, ev.ID)
	require.NotNil(t, got.LastUpdate)
	assert.Equal(t, "index unavailable", got.LastUpdate.Note)
}

func TestPool_HandlerTimeoutMarksFailed(t *testing.T) {
	s := memory.New()
	ev := put(t, s, "a", 1000, events.StateReady)
	h := handlerFunc(func(ctx context.Context, _ events.StoredEvent) (events.ProcessingState, error) {
		<-ctx.Done()
		return events.StateFailed, ctx.Err()
	})
	cfg := testConfig()
	cfg.HandleTimeout = 50 * time.Millisecond
	p := newPool(t, s, h, cfg)

	p.process(context.Background(), ev, p.logger)
	got := current(s, ev.ID)
	assert.Equal(t, events.StateFailed, got.State)
	require.NotNil(t, got.LastUpdate)
	assert.Contains(t, got.LastUpdate.Note, context.DeadlineExceeded.Error())
}

func TestPool_ProcessSkipsEventsClaimedElsewhere(t *testing.T) {
	s := memory.New()
	ev := put(t, s, "a", 1000, events.StateReady)
	called := false
	h := handlerFunc(func(context.Context, events.StoredEvent) (events.ProcessingState, error) {
		called = true
		return events.StateIndexed, nil
	})
	p := newPool(t, s, h, testConfig())

	ok, err := s.SetProcessingState(context.Background(), ev.ID, events.StateReady, events.StateProcessing, "other pool")
	require.NoError(t, err)
	require.True(t, ok)

	p.process(context.Background(), ev, p.logger)
	assert.False(t, called)
	assert.Equal(t, events.StateProcessing, current(s, ev.ID).State)
}

func TestPool_ClaimNoteNamesPool(t *testing.T) {
	s := memory.New()
	ev := put(t, s, "a", 1000, events.StateReady)
	var mu sync.Mutex
	var note string
	h := handlerFunc(func(ctx context.Context, got events.StoredEvent) (events.ProcessingState, error) {
		stored, err := s.Get(ctx, got.ID)
		if err != nil {
			return "", err
		}
		mu.Lock()
		note = stored.LastUpdate.Note
		mu.Unlock()
		assert.Equal(t, events.StateProcessing, got.State)
		return events.StateUnindexed, nil
	})
	p := newPool(t, s, h, testConfig())
	p.process(context.Background(), ev, p.logger)

	assert.Equal(t, events.StateUnindexed, current(s, ev.ID).State)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "claimed by "+p.ID(), note)
}

func TestPool_NotificationWakesPool(t *testing.T) {
	s := memory.New()
	idx := indexing.NewMemoryStorage()
	consumer := &chanConsumer{ch: make(chan pubsub.Message)}

	cfg := testConfig()
	cfg.PollInterval = time.Hour
	p := newPool(t, s, indexing.NewHandler(idx, nil, nil), cfg, WithConsumer(consumer))
	require.NoError(t, p.Start(context.Background()))
	defer stopPool(t, p)

	// the first poll runs at start; this event arrives after it
	time.Sleep(20 * time.Millisecond)
	ev := put(t, s, "a", 1000, events.StateReady)

	data, err := pubsub.NewReadyNotification(ev).Encode()
	require.NoError(t, err)
	acked := func(m *pubsubtest.Message) func() bool {
		return func() bool {
			n, _ := m.Counts()
			return n == 1
		}
	}

	msg := pubsubtest.NewMessage("ready.WS", data)
	consumer.ch <- msg

	require.Eventually(t, func() bool {
		return current(s, ev.ID).State == events.StateIndexed
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, acked(msg), time.Second, 5*time.Millisecond)

	bad := pubsubtest.NewMessage("ready.WS", []byte("{"))
	consumer.ch <- bad
	assert.Eventually(t, acked(bad), time.Second, 5*time.Millisecond, "invalid notifications are dropped")
}

func TestPartition(t *testing.T) {
	for _, n := range []int{1, 2, 7} {
		for _, key := range []string{"", "a", "WS:1/2", "WS:1/3"} {
			p := partition(key, n)
			assert.GreaterOrEqual(t, p, 0)
			assert.Less(t, p, n)
			assert.Equal(t, p, partition(key, n))
		}
	}
}
