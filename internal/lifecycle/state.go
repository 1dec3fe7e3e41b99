// Package lifecycle implements the shared-state primitives of spec.md
// §4.C: the process-wide LifecycleState latch, a generic read-mostly
// SharedValue, and the PauseGate every long-running thread suspends on.
package lifecycle

import "fmt"

// State is the single process-wide lifecycle state (spec.md §3).
// Transitions are monotonic past ShuttingDown: INITIALIZING -> RUNNING
// <-> PAUSED -> SHUTTING_DOWN -> STOPPED.
type State int32

const (
	Initializing State = iota
	Running
	Paused
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "INITIALIZING"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case Stopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}
