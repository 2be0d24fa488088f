package sync

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// jitterFraction is the maximum random offset (±25%) applied to the
// interval so that a fleet of sidecars does not hammer the remote in step
const jitterFraction = 0.25

// Ticker fires periodic triggers into the engine
type Ticker struct {
	engine   Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewTicker creates a ticker that triggers the engine every interval,
// with jitter applied per tick
func NewTicker(engine Engine, interval time.Duration) *Ticker {
	return &Ticker{
		engine:   engine,
		interval: interval,
		logger:   slog.With("component", "ticker"),
	}
}

// jitteredInterval returns the base interval with a random ±25% offset
func (t *Ticker) jitteredInterval() time.Duration {
	maxOffset := int64(float64(t.interval) * jitterFraction)
	if maxOffset <= 0 {
		return t.interval
	}
	//nolint:gosec // G404: non-cryptographic randomness is fine for tick jitter
	offset := rand.Int64N(2*maxOffset) - maxOffset
	return t.interval + time.Duration(offset)
}

// Run fires interval triggers until the context is cancelled. The first
// trigger fires immediately so a fresh daemon converges without waiting a
// full interval.
func (t *Ticker) Run(ctx context.Context) error {
	t.logger.Info("Interval trigger started", "interval", t.interval.String())

	t.engine.Trigger(TriggerStartup)

	timer := time.NewTimer(t.jitteredInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Interval trigger stopped")
			return nil
		case <-timer.C:
			t.engine.Trigger(TriggerInterval)
			timer.Reset(t.jitteredInterval())
		}
	}
}
