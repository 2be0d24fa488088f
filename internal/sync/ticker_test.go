package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine counts triggers per reason
type stubEngine struct {
	startup  atomic.Int64
	interval atomic.Int64
}

func (*stubEngine) Start(context.Context) error { return nil }
func (*stubEngine) Stop() error                 { return nil }
func (*stubEngine) Status() Status              { return Status{Phase: PhaseIdle} }
func (*stubEngine) RunOnce(context.Context, string) (Outcome, error) {
	return OutcomeUnchanged, nil
}

func (s *stubEngine) Trigger(reason string) {
	switch reason {
	case TriggerStartup:
		s.startup.Add(1)
	case TriggerInterval:
		s.interval.Add(1)
	}
}

func TestTickerFiresImmediatelyAndPeriodically(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{}
	ticker := NewTicker(engine, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ticker.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return engine.startup.Load() == 1 && engine.interval.Load() >= 2
	}, 5*time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestTickerStopsOnCancel(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{}
	ticker := NewTicker(engine, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ticker.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop on context cancellation")
	}

	// Only the immediate startup trigger may have fired.
	assert.LessOrEqual(t, engine.startup.Load(), int64(1))
	assert.Zero(t, engine.interval.Load())
}

func TestJitteredIntervalStaysWithinBounds(t *testing.T) {
	t.Parallel()

	ticker := NewTicker(&stubEngine{}, time.Minute)
	low := time.Duration(float64(time.Minute) * (1 - jitterFraction))
	high := time.Duration(float64(time.Minute) * (1 + jitterFraction))

	for i := 0; i < 100; i++ {
		d := ticker.jitteredInterval()
		assert.GreaterOrEqual(t, d, low)
		assert.LessOrEqual(t, d, high)
	}
}
