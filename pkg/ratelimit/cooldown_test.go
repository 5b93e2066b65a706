package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewCooldown_Floor(t *testing.T) {
	tests := []struct {
		name       string
		configured time.Duration
		expected   time.Duration
	}{
		{name: "zero raised to minimum", configured: 0, expected: MinRetryTime},
		{name: "below minimum raised", configured: 60 * time.Second, expected: MinRetryTime},
		{name: "exactly minimum kept", configured: 300 * time.Second, expected: 300 * time.Second},
		{name: "above minimum kept", configured: 10 * time.Minute, expected: 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCooldown(tt.configured, zerolog.Nop())
			if c.Duration() != tt.expected {
				t.Errorf("Duration() = %v, want %v", c.Duration(), tt.expected)
			}
		})
	}
}

func TestCooldown_Wait(t *testing.T) {
	c := NewCooldown(7*time.Minute, zerolog.Nop())

	var slept []time.Duration
	c.SetSleepFunc(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start }

	for i := 0; i < 2; i++ {
		if err := c.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	if len(slept) != 2 || slept[0] != 7*time.Minute {
		t.Errorf("slept = %v, want two 7m waits", slept)
	}

	state := c.State()
	if state.Cooldowns != 2 {
		t.Errorf("Cooldowns = %d, want 2", state.Cooldowns)
	}
	if state.TotalWait != 14*time.Minute {
		t.Errorf("TotalWait = %v, want 14m", state.TotalWait)
	}
	if !state.LastCooldown.Equal(start) {
		t.Errorf("LastCooldown = %v, want %v", state.LastCooldown, start)
	}
	if !state.Throttled() {
		t.Error("Throttled() = false after cool-downs")
	}
}

func TestCooldown_WaitInterrupted(t *testing.T) {
	c := NewCooldown(MinRetryTime, zerolog.Nop())
	c.SetSleepFunc(func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	})

	err := c.Wait(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
	if c.State().Cooldowns != 0 {
		t.Error("interrupted wait should not be counted")
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() should return as soon as the context is done")
	}
}
