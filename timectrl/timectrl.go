package timectrl

import (
	"context"
	"math"
	"sync"
	"time"
)

// SimClock is an interface for reading simulation time. Mobility models,
// samplers and the scheduler depend on this abstraction rather than on a
// concrete controller so tests can drive time directly.
type SimClock interface {
	// Now returns the simulated time elapsed since the start of the run.
	Now() time.Duration
}

// Mode describes how the TimeController paces simulation time.
type Mode int

const (
	// Accelerated advances as quickly as events can be processed.
	Accelerated Mode = iota
	// RealTime blocks each advance until the same amount of wall-clock
	// time has passed since the run started.
	RealTime
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	default:
		return "accelerated"
	}
}

// Seconds converts a floating-point number of seconds into a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// TimeController owns the simulated clock. Only the event scheduler advances
// it; everyone else reads it through SimClock.
type TimeController struct {
	mu   sync.RWMutex
	Mode Mode

	now       time.Duration
	wallStart time.Time
	listeners []func(time.Duration)

	// wallNow and sleep are replaceable in tests.
	wallNow func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewTimeController constructs a controller at simulated time zero.
func NewTimeController(mode Mode) *TimeController {
	return &TimeController{
		Mode:    mode,
		wallNow: time.Now,
		sleep:   sleepContext,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.now
}

// AddListener registers a callback invoked whenever simulated time moves
// forward. Callbacks run on the advancing goroutine.
func (tc *TimeController) AddListener(fn func(time.Duration)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// AdvanceTo moves simulated time forward to t. Time never goes backwards:
// a t earlier than Now is ignored. In RealTime mode the call blocks until the
// wall clock has caught up, returning early with ctx.Err() if ctx ends first.
func (tc *TimeController) AdvanceTo(ctx context.Context, t time.Duration) error {
	tc.mu.Lock()
	if t <= tc.now {
		tc.mu.Unlock()
		return nil
	}
	if tc.wallStart.IsZero() {
		tc.wallStart = tc.wallNow()
	}
	mode := tc.Mode
	wallStart := tc.wallStart
	tc.mu.Unlock()

	if mode == RealTime {
		if wait := t - tc.wallNow().Sub(wallStart); wait > 0 {
			if err := tc.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	tc.mu.Lock()
	if t > tc.now {
		tc.now = t
	}
	now := tc.now
	listeners := append([]func(time.Duration){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
