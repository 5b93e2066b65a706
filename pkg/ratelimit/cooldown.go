package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate-limit cool-downs.
var (
	sierraCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sierra_rate_limit_cooldowns_total",
		Help: "Total number of cool-downs taken after a rate-limit response",
	})

	sierraCooldownSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sierra_rate_limit_cooldown_seconds_total",
		Help: "Total seconds spent waiting out rate-limit cool-downs",
	})
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cooldown blocks the caller for the configured retry time after the
// catalog reports rate-limit exhaustion.
type Cooldown struct {
	duration time.Duration
	sleep    SleepFunc
	now      func() time.Time
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewCooldown creates a cool-down of the given duration. Durations below
// MinRetryTime are raised to it.
func NewCooldown(duration time.Duration, logger zerolog.Logger) *Cooldown {
	logger = logger.With().Str("component", "ratelimit").Logger()

	if duration < MinRetryTime {
		logger.Warn().
			Dur("configured", duration).
			Dur("minimum", MinRetryTime).
			Msg("Retry time below minimum, using minimum")
		duration = MinRetryTime
	}

	return &Cooldown{
		duration: duration,
		sleep:    Sleep,
		now:      time.Now,
		logger:   logger,
	}
}

// Duration returns the effective wait per cool-down.
func (c *Cooldown) Duration() time.Duration {
	return c.duration
}

// Wait blocks for the cool-down duration.
func (c *Cooldown) Wait(ctx context.Context) error {
	start := c.now()

	c.logger.Warn().
		Dur("wait_duration", c.duration).
		Time("resume_at", start.Add(c.duration)).
		Msg("Too many requests, waiting before retrying the same chunk")

	sierraCooldownsTotal.Inc()
	if err := c.sleep(ctx, c.duration); err != nil {
		return err
	}
	sierraCooldownSecondsTotal.Add(c.duration.Seconds())

	c.mu.Lock()
	c.state.Cooldowns++
	c.state.TotalWait += c.duration
	c.state.LastCooldown = start
	c.mu.Unlock()

	c.logger.Info().Msg("Cool-down finished, resuming export")
	return nil
}

// State returns a snapshot of the cool-downs taken so far.
func (c *Cooldown) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetSleepFunc replaces the sleep implementation (for testing).
func (c *Cooldown) SetSleepFunc(fn SleepFunc) {
	c.sleep = fn
}
