// Package interaction implements the agent/environment interaction loop
// of spec.md §4.F, including the fixed-interval scheduling variant with
// drift correction and overrun skip-ahead.
package interaction

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"concord/internal/contract"
	"concord/internal/lifecycle"
	"concord/internal/vclock"
)

// Loop drives a single agent/environment pair through repeated ticks:
// observe, step, affect. Setup is invoked once before the first tick
// and Teardown once after the last, via the optional contract.Setupable
// / contract.Teardownable capabilities.
type Loop struct {
	Agent       contract.Agent
	Environment contract.Environment
}

// NewLoop returns a Loop over the given agent/environment pair.
func NewLoop(agent contract.Agent, env contract.Environment) *Loop {
	return &Loop{Agent: agent, Environment: env}
}

// Setup invokes the environment's and agent's Setup hooks, if present.
func (l *Loop) Setup(ctx context.Context) error {
	if err := contract.CallSetup(ctx, l.Environment); err != nil {
		return fmt.Errorf("interaction: environment setup: %w", err)
	}
	if err := contract.CallSetup(ctx, l.Agent); err != nil {
		return fmt.Errorf("interaction: agent setup: %w", err)
	}
	return nil
}

// Teardown invokes the agent's and environment's Teardown hooks, if
// present, in the reverse order of Setup.
func (l *Loop) Teardown(ctx context.Context) error {
	if err := contract.CallTeardown(ctx, l.Agent); err != nil {
		return fmt.Errorf("interaction: agent teardown: %w", err)
	}
	if err := contract.CallTeardown(ctx, l.Environment); err != nil {
		return fmt.Errorf("interaction: environment teardown: %w", err)
	}
	return nil
}

// Tick runs one observe/step/affect cycle. Any error from a user hook is
// returned as-is; callers treat it as fatal, per spec.md §4.F.
func (l *Loop) Tick(ctx context.Context) error {
	obs, err := l.Environment.Observe(ctx)
	if err != nil {
		return fmt.Errorf("interaction: observe: %w", err)
	}
	action, err := l.Agent.Step(ctx, obs)
	if err != nil {
		return fmt.Errorf("interaction: agent step: %w", err)
	}
	if err := l.Environment.Affect(ctx, action); err != nil {
		return fmt.Errorf("interaction: affect: %w", err)
	}
	return nil
}

// FixedIntervalInteraction paces a Loop at a target virtual-time
// interval, per spec.md §4.F: each tick computes sleep_for = next_fire -
// virtual_now, clamped to >= 0. On an overrun (sleep_for < 0) the tick
// runs at once and next_fire skips forward by whole multiples of the
// interval to the next aligned boundary at or after now, so a stall
// never causes a busy-catchup storm of queued ticks; an overrun of more
// than one whole interval is also logged.
type FixedIntervalInteraction struct {
	loop      *Loop
	clock     *vclock.Clock
	pauseGate *lifecycle.PauseGate
	interval  time.Duration
	log       zerolog.Logger
}

// NewFixedIntervalInteraction returns a scheduler that ticks loop every
// interval of virtual time.
func NewFixedIntervalInteraction(loop *Loop, clock *vclock.Clock, pauseGate *lifecycle.PauseGate, interval time.Duration, log zerolog.Logger) *FixedIntervalInteraction {
	return &FixedIntervalInteraction{loop: loop, clock: clock, pauseGate: pauseGate, interval: interval, log: log}
}

// Run blocks, ticking the loop at the configured interval until ctx is
// cancelled or a tick returns a fatal error.
func (f *FixedIntervalInteraction) Run(ctx context.Context) error {
	if err := f.loop.Setup(ctx); err != nil {
		return err
	}
	defer f.loop.Teardown(ctx)

	intervalSec := f.interval.Seconds()
	nextFire := f.clock.Virtual()

	for {
		if err := f.pauseGate.WaitIfPaused(ctx); err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		now := f.clock.Virtual()
		sleepFor := nextFire - now

		if sleepFor < 0 {
			// Already due (or overdue): tick immediately below instead of
			// sleeping on a freshly pushed-out nextFire. Only warn once
			// a whole interval was actually missed; the first iteration's
			// nextFire is seeded to Virtual() at entry and a few
			// instructions always elapse before this check, so a sub-I
			// overrun here is ordinary scheduling jitter, not a stall.
			skipped := nextAlignedFire(nextFire, now, intervalSec)
			if skipped > nextFire+intervalSec {
				f.log.Warn().
					Float64("overrun_seconds", -sleepFor).
					Float64("next_fire", skipped).
					Msg("interaction loop overrun, ticking immediately and skipping to next aligned boundary")
			}
			nextFire = skipped
		} else {
			// Wait at the pause gate while sleeping, so a Pause issued
			// mid-sleep sees this thread quiesce; virtual time is frozen
			// while paused, so a pause extends the sleep.
			for sleepFor > 0 && f.clock.Virtual() < nextFire {
				if err := f.pauseGate.WaitIfPaused(ctx); err != nil {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Millisecond):
				}
			}
			nextFire += intervalSec
		}

		if err := f.pauseGate.WaitIfPaused(ctx); err != nil {
			return nil
		}
		if err := f.loop.Tick(ctx); err != nil {
			return err
		}
	}
}

// nextAlignedFire computes the next scheduling boundary at or after now,
// given the previously scheduled nextFire and interval, advancing by
// whole multiples of interval so a long stall skips straight to the next
// aligned boundary instead of firing once per missed interval.
func nextAlignedFire(nextFire, now, intervalSec float64) float64 {
	overrun := now - nextFire
	missedIntervals := math.Ceil(overrun / intervalSec)
	return nextFire + missedIntervals*intervalSec
}
