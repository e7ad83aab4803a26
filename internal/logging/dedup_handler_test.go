package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestDedup(t *testing.T, maxKeys int) (*slog.Logger, *bytes.Buffer, *testClock) {
	t.Helper()
	var buf bytes.Buffer
	clock := &testClock{t: time.Unix(1000, 0)}
	dh, err := newDedupHandler(slog.NewTextHandler(&buf, nil), time.Minute, maxKeys, clock.now)
	require.NoError(t, err)
	return slog.New(dh), &buf, clock
}

func TestDedupHandler_SuppressesWithinWindow(t *testing.T) {
	logger, buf, clock := newTestDedup(t, 10)

	for i := 0; i < 5; i++ {
		logger.Info("duplicate message", "key", "value")
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "duplicate message"))
	assert.NotContains(t, buf.String(), "repeated_count")

	clock.advance(time.Minute)
	logger.Info("duplicate message", "key", "value")
	assert.Equal(t, 2, strings.Count(buf.String(), "duplicate message"))
	assert.Contains(t, buf.String(), "repeated_count=4")

	clock.advance(time.Minute)
	logger.Info("duplicate message", "key", "value")
	assert.Equal(t, 1, strings.Count(buf.String(), "repeated_count"), "nothing was dropped in the last window")
}

func TestDedupHandler_DistinctRecords(t *testing.T) {
	logger, buf, _ := newTestDedup(t, 10)

	logger.Info("message 1")
	logger.Info("message 2")
	logger.Warn("message 1")
	logger.Info("message 1", "key", "a")
	logger.Info("message 1", "key", "b")

	assert.Equal(t, 5, strings.Count(buf.String(), "msg="))
}

func TestDedupHandler_WithAttrsAndGroups(t *testing.T) {
	logger, buf, _ := newTestDedup(t, 10)

	coord := logger.With("component", "coordinator")
	workers := logger.With("component", "worker-pool")
	coord.Info("started")
	workers.Info("started")
	coord.Info("started")
	assert.Equal(t, 2, strings.Count(buf.String(), "started"))

	grouped := logger.WithGroup("req")
	grouped.Info("started")
	assert.Equal(t, 3, strings.Count(buf.String(), "started"))
	assert.Same(t, logger.Handler(), logger.Handler().WithGroup(""))
}

func TestDedupHandler_ForgetsLeastRecent(t *testing.T) {
	logger, buf, _ := newTestDedup(t, 1)

	logger.Info("a")
	logger.Info("b")
	logger.Info("a")
	assert.Equal(t, 2, strings.Count(buf.String(), "msg=a"), "a was evicted by b")
}

func TestDedupHandler_Enabled(t *testing.T) {
	var buf bytes.Buffer
	dh, err := NewDedupHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}), time.Second, 10)
	require.NoError(t, err)
	logger := slog.New(dh)

	logger.Info("quiet")
	logger.Warn("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")

	_, err = NewDedupHandler(dh, time.Second, 0)
	assert.Error(t, err)
}

func TestDedupHandler_Concurrent(t *testing.T) {
	logger, buf, _ := newTestDedup(t, 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("same")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, strings.Count(buf.String(), "same"))
}
