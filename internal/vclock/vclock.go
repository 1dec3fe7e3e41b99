// Package vclock implements the time source of spec.md §4.A: a
// monotonic wall clock and a pause-aware virtual clock that freezes
// while the lifecycle is PAUSED.
package vclock

import (
	"context"
	"time"

	channerics "github.com/niceyeti/channerics/channels"

	"concord/internal/atomicfloat"
	"concord/internal/lifecycle"
)

// Clock exposes wall and virtual monotonic time, in fractional seconds
// since construction. Virtual time is non-decreasing and advances 1:1
// with wall time while RUNNING; it freezes while PAUSED.
type Clock struct {
	start     time.Time
	state     *lifecycle.Latch[lifecycle.State]
	pausedAcc *atomicfloat.Float64 // accumulated seconds spent paused
	pausedAt  *atomicfloat.Float64 // wall-seconds at which the current pause began; <0 if not paused
	offset    *atomicfloat.Float64 // seed offset applied after restoring from a persistence record
}

// New returns a Clock whose epoch is now, observing the given lifecycle
// latch to freeze virtual time during PAUSED.
func New(state *lifecycle.Latch[lifecycle.State]) *Clock {
	c := &Clock{
		start:     time.Now(),
		state:     state,
		pausedAcc: atomicfloat.New(0),
		pausedAt:  atomicfloat.New(-1),
		offset:    atomicfloat.New(0),
	}
	return c
}

// SeedVirtual adjusts the clock so that Virtual() returns v on the very
// next call, without disturbing Wall(). Used at startup to continue the
// virtual clock from a persistence record's recorded offset (spec.md
// §4.I's load sequence); must be called before the clock is otherwise
// observed or shared across goroutines.
func (c *Clock) SeedVirtual(v float64) {
	c.offset.Set(v - c.virtualUnseeded())
}

// Wall returns monotonic fractional seconds since the clock was
// constructed, unaffected by pauses.
func (c *Clock) Wall() float64 {
	return time.Since(c.start).Seconds()
}

// Virtual returns the pause-aware monotonic clock: wall time minus all
// elapsed paused duration (including any pause still in progress), plus
// any seed offset applied via SeedVirtual.
func (c *Clock) Virtual() float64 {
	return c.virtualUnseeded() + c.offset.Read()
}

func (c *Clock) virtualUnseeded() float64 {
	wall := c.Wall()
	acc := c.pausedAcc.Read()
	if pausedAt := c.pausedAt.Read(); pausedAt >= 0 {
		acc += wall - pausedAt
	}
	v := wall - acc
	if v < 0 {
		return 0
	}
	return v
}

// WallClockTimestamp returns the current UTC wall-clock time formatted
// as spec.md §6's persistence record directory name
// ("20060102T150405Z").
func (c *Clock) WallClockTimestamp() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

// NotifyPaused must be called (once) when the lifecycle transitions to
// PAUSED; it records the wall-time at which the pause began.
func (c *Clock) NotifyPaused() {
	c.pausedAt.Set(c.Wall())
}

// NotifyResumed must be called (once) when the lifecycle transitions
// back to RUNNING; it folds the just-ended pause's duration into the
// accumulator.
func (c *Clock) NotifyResumed() {
	pausedAt := c.pausedAt.Read()
	if pausedAt < 0 {
		return
	}
	elapsed := c.Wall() - pausedAt
	for {
		if _, ok := c.pausedAcc.Add(elapsed); ok {
			break
		}
	}
	c.pausedAt.Set(-1)
}

// VirtualSleep blocks until d virtual seconds have elapsed, extending
// the sleep across any intervening pauses. It returns early with
// ctx.Err() if ctx is cancelled, or with lifecycle.ErrCancelled once the
// lifecycle reaches ShuttingDown (satisfying spec.md §5's requirement
// that every suspension point be cancellable by shutdown).
func (c *Clock) VirtualSleep(ctx context.Context, d time.Duration) error {
	deadline := c.Virtual() + d.Seconds()
	const pollInterval = 5 * time.Millisecond
	for range channerics.NewTicker(ctx.Done(), pollInterval) {
		if st := c.state.Peek(); st == lifecycle.ShuttingDown || st == lifecycle.Stopped {
			return lifecycle.ErrCancelled
		}
		if c.Virtual() >= deadline {
			return nil
		}
	}
	return ctx.Err()
}
