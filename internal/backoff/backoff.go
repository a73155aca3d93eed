// Package backoff implements a cancelable exponential-delay scheduler with jitter.
//
// A Timer runs a single callback after a delay that starts at the initial
// value, doubles on every Continue, caps at the maximum and is jittered by
// ±20% of the current base. The timer never chains itself: the owner calls
// Continue after each failed attempt.
package backoff

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Defaults for a reconnection campaign.
const (
	DefaultInitial = 100 * time.Millisecond
	DefaultMax     = 30 * time.Second
)

// Timer schedules a callback with exponentially growing, jittered delays.
type Timer struct {
	initial time.Duration
	max     time.Duration
	fn      func()
	clock   clock.Clock

	mu        sync.Mutex
	current   time.Duration // 0 until the first delay of a campaign
	last      time.Duration // last jittered delay handed to the clock
	cancelled bool
	timer     *clock.Timer
}

// Option configures a Timer.
type Option func(*Timer)

// WithInitial sets the first delay of a campaign.
func WithInitial(d time.Duration) Option {
	return func(t *Timer) {
		t.initial = d
	}
}

// WithMax caps the base delay.
func WithMax(d time.Duration) Option {
	return func(t *Timer) {
		t.max = d
	}
}

// WithClock sets the clock used for scheduling.
func WithClock(c clock.Clock) Option {
	return func(t *Timer) {
		t.clock = c
	}
}

// New creates a Timer that runs fn when a scheduled delay elapses.
func New(fn func(), opts ...Option) *Timer {
	t := &Timer{
		initial: DefaultInitial,
		max:     DefaultMax,
		fn:      fn,
		clock:   clock.New(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.initial <= 0 {
		t.initial = DefaultInitial
	}
	if t.max < t.initial {
		t.max = t.initial
	}

	return t
}

// Start clears the cancelled flag and schedules the first delay of a new campaign.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelled = false
	t.stopLocked()
	t.current = 0
	t.scheduleLocked()
}

// Continue schedules the next, doubled delay. It does nothing once cancelled.
func (t *Timer) Continue() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return
	}
	t.stopLocked()
	t.scheduleLocked()
}

// Cancel stops any pending callback and ignores Continue until the next Start.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelled = true
	t.stopLocked()
	t.current = 0
}

// Reset stops any pending callback and forgets the delay without cancelling.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.current = 0
}

// Delay returns the most recently scheduled (jittered) delay.
func (t *Timer) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Base returns the current un-jittered delay, 0 when no campaign is running.
func (t *Timer) Base() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// scheduleLocked advances the base delay and arms the clock. Must hold mu.
func (t *Timer) scheduleLocked() {
	if t.current == 0 {
		t.current = t.initial
	} else {
		t.current *= 2
	}
	if t.current > t.max {
		t.current = t.max
	}

	t.last = Jitter(t.current)
	t.timer = t.clock.AfterFunc(t.last, t.fn)
}

// stopLocked disarms the pending callback. Must hold mu.
func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Jitter returns a whole-millisecond delay drawn uniformly from
// [base*0.8, base*1.2]. Bases too small to hold a whole millisecond
// inside that window are returned unchanged.
func Jitter(base time.Duration) time.Duration {
	const unit = 5 * time.Millisecond

	lo := (base*4 + unit - 1) / unit
	hi := (base * 6) / unit
	if hi < lo {
		return base
	}

	ms := int64(lo) + rand.Int64N(int64(hi-lo)+1)
	return time.Duration(ms) * time.Millisecond
}
