// Package clock provides the monotonic millisecond time source used by every
// timing decision in the control loop.
package clock

import (
	"sync"
	"time"
)

// Clock reads elapsed time and pauses the caller. All timing in the gateway
// is derived from these two operations.
type Clock interface {
	// NowMillis returns a monotonic millisecond counter. Only differences
	// between two readings are meaningful.
	NowMillis() int64
	// Sleep blocks the caller for d.
	Sleep(d time.Duration)
}

// System is the production clock backed by the runtime monotonic clock.
type System struct {
	start time.Time
}

// NewSystem returns a System clock whose counter starts at zero.
func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) NowMillis() int64 {
	return time.Since(s.start).Milliseconds()
}

func (s *System) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Fake is a manually driven clock. Sleep advances the counter instead of
// blocking, so loops that pace themselves with Sleep run instantly in tests.
type Fake struct {
	mu     sync.Mutex
	now    int64
	slept  time.Duration
	onTick func(now int64)
}

// NewFake returns a Fake clock reading start milliseconds.
func NewFake(start int64) *Fake {
	return &Fake{now: start}
}

func (f *Fake) NowMillis() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
	f.mu.Lock()
	f.slept += d
	f.mu.Unlock()
}

// Advance moves the counter forward by d and runs the tick hook, if any.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += d.Milliseconds()
	now := f.now
	hook := f.onTick
	f.mu.Unlock()
	if hook != nil {
		hook(now)
	}
}

// OnTick registers fn to run after every Advance with the new counter value.
// Tests use it to inject link traffic at specific points in time.
func (f *Fake) OnTick(fn func(now int64)) {
	f.mu.Lock()
	f.onTick = fn
	f.mu.Unlock()
}

// Slept returns the total duration passed to Sleep.
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}
