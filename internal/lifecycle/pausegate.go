package lifecycle

import (
	"context"
	"errors"
)

// ErrCancelled is returned by a suspension point when the lifecycle has
// moved to ShuttingDown. Callers return it up their stack without
// reporting it as a fatal error (spec.md §7).
var ErrCancelled = errors.New("lifecycle: cancelled")

// PauseGate is the synchronization point every long-running thread calls
// at each suspension point (spec.md §4.C, §5). WaitIfPaused returns
// immediately while RUNNING, blocks while PAUSED, and returns
// ErrCancelled once the lifecycle reaches ShuttingDown.
type PauseGate struct {
	state   *Latch[State]
	onBlock func()
}

// NewPauseGate returns a PauseGate observing the given lifecycle latch.
func NewPauseGate(state *Latch[State]) *PauseGate {
	return &PauseGate{state: state}
}

// SetOnBlock registers a callback invoked each time the gate is about to
// suspend the caller on a Paused state, before it actually blocks. The
// orchestrator uses this to mark a thread's per-component quiescence
// flag once it has reached the paused suspension point (spec.md §4.H's
// "per-thread quiescence flags").
func (g *PauseGate) SetOnBlock(fn func()) {
	g.onBlock = fn
}

// WaitIfPaused blocks the caller while the lifecycle is Paused, returns
// nil immediately while Running, and returns ErrCancelled once
// ShuttingDown (or later) is observed. If ctx is cancelled first, it
// returns ctx's error.
func (g *PauseGate) WaitIfPaused(ctx context.Context) error {
	version := g.state.Version()
	for {
		cur := g.state.Peek()
		switch cur {
		case Running:
			return nil
		case ShuttingDown, Stopped:
			return ErrCancelled
		}

		// Paused (or Initializing, which behaves the same: block
		// until a transition away from it).
		if g.onBlock != nil {
			g.onBlock()
		}
		var err error
		_, version, err = g.state.Await(ctx, version)
		if err != nil {
			return err
		}
	}
}
