package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/homebank/internal/logging"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(time.UTC, logging.Discard())

	err := s.Add("bad", "not a schedule", func(context.Context) error { return nil })
	require.Error(t, err)

	// A failed Add frees the name.
	require.NoError(t, s.Add("bad", "@every 1h", func(context.Context) error { return nil }))
}

func TestAddRejectsDuplicate(t *testing.T) {
	s := New(time.UTC, logging.Discard())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("sweep", "@every 5m", noop))
	assert.Error(t, s.Add("sweep", "@every 1m", noop))
}

func TestRunNow(t *testing.T) {
	s := New(time.UTC, logging.Discard())
	var calls atomic.Int32
	boom := errors.New("boom")

	require.NoError(t, s.Add("count", "", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("fail", "", func(context.Context) error { return boom }))

	require.NoError(t, s.RunNow("count"))
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, s.RunNow("fail"), boom)
	assert.Error(t, s.RunNow("missing"))
}

func TestScheduledTaskFires(t *testing.T) {
	s := New(time.UTC, logging.Discard())
	fired := make(chan struct{}, 4)

	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		fired <- struct{}{}
		return nil
	}))
	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("task never fired")
	}
}

func TestStopCancelsRunningTask(t *testing.T) {
	s := New(time.UTC, logging.Discard())
	started := make(chan struct{})
	cancelled := make(chan struct{})

	require.NoError(t, s.Add("slow", "", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))
	s.Start()

	go s.RunNow("slow")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("task context not cancelled")
	}
}
