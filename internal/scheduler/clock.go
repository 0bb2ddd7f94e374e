package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Ticker is advanced once per clock period.
type Ticker interface {
	Tick()
}

// Clock is the single global timeline that drives every timer. Ticks run on
// one goroutine, so tick n+1 never starts before tick n has returned.
type Clock struct {
	ticker   Ticker
	logger   *slog.Logger
	interval time.Duration
	lastTick atomic.Int64
}

func NewClock(ticker Ticker, logger *slog.Logger, interval time.Duration) *Clock {
	return &Clock{
		ticker:   ticker,
		logger:   logger.With("component", "clock"),
		interval: interval,
	}
}

func (c *Clock) Start(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()

	c.logger.Info("clock started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("clock shut down")
			return
		case <-t.C:
			c.tick()
		}
	}
}

// tick never lets a failure escape into the loop.
func (c *Clock) tick() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("tick panicked", "panic", r)
		}
	}()
	c.ticker.Tick()
	c.lastTick.Store(time.Now().UnixNano())
}

// Ping reports the clock as unhealthy when it has missed several periods,
// and never within the first five seconds of silence.
func (c *Clock) Ping(_ context.Context) error {
	last := c.lastTick.Load()
	if last == 0 {
		return fmt.Errorf("clock has not ticked yet")
	}
	if since := time.Since(time.Unix(0, last)); since > max(5*c.interval, 5*time.Second) {
		return fmt.Errorf("clock stalled: last tick %s ago", since.Round(time.Millisecond))
	}
	return nil
}
