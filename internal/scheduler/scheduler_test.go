// README: Scheduler loop tests.
package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerSweepsOnEveryTick(t *testing.T) {
	sw := &countingSweeper{}
	s := New(sw, 20*time.Millisecond, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	assert.GreaterOrEqual(t, int(sw.calls.Load()), 2)
}

func TestSchedulerKeepsRunningAfterError(t *testing.T) {
	sw := &countingSweeper{err: errors.New("db down")}
	s := New(sw, 20*time.Millisecond, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	assert.GreaterOrEqual(t, int(sw.calls.Load()), 2)
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	sw := &countingSweeper{}
	s := New(sw, time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}
	assert.Zero(t, sw.calls.Load())
}
