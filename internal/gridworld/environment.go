package gridworld

import (
	"context"
	"math/rand"

	"concord/internal/databuffer"
)

// StepTuple is one collected transition: state, applied action,
// observed reward, and successor, tagged with an episode id and
// within-episode step index so Trainer can reconstruct episodes and
// propagate reward backward from each one's terminal step, matching the
// teacher's every-visit Monte-Carlo estimator.
type StepTuple struct {
	EpisodeID uint64
	StepIndex int

	X, Y, VX, VY   int
	DVX, DVY       int
	Reward         float64
	NextX, NextY   int
	NextVX, NextVY int
	NextIsTerminal bool
}

// FieldNames satisfies databuffer.Tuple.
func (StepTuple) FieldNames() []string {
	return []string{
		"episode_id", "step_index",
		"x", "y", "vx", "vy",
		"dvx", "dvy", "reward",
		"next_x", "next_y", "next_vx", "next_vy", "next_is_terminal",
	}
}

// Environment drives one agent through the track: it reports the
// current state via Observe, applies the agent's chosen action via
// Affect, collects the resulting transition to a databuffer, and resets
// to a new random start whenever a terminal state (wall or finish) is
// reached.
type Environment struct {
	topo      *Topology
	rng       *rand.Rand
	cur       StateIndex
	episodeID uint64
	stepIndex int
	collector *databuffer.Collector[StepTuple]
}

// NewEnvironment returns an Environment over topo, seeded with rngSeed
// for its random-start draws, collecting transitions through collector.
func NewEnvironment(topo *Topology, rngSeed int64, collector *databuffer.Collector[StepTuple]) *Environment {
	e := &Environment{
		topo:      topo,
		rng:       rand.New(rand.NewSource(rngSeed)),
		collector: collector,
	}
	e.cur = randomStartState(topo, e.rng)
	return e
}

// Observe returns the environment's current StateIndex.
func (e *Environment) Observe(ctx context.Context) (any, error) {
	return e.cur, nil
}

// Affect applies action (a gridworld.Action) to the current state,
// computing the successor and reward per the track's kinematics,
// collecting the transition, and resetting to a fresh random start if
// the successor is terminal.
func (e *Environment) Affect(ctx context.Context, action any) error {
	act, ok := action.(Action)
	if !ok {
		act = Action{}
	}

	cur := e.cur
	successor := successorFor(e.topo, cur, act)
	reward := rewardFor(e.topo, successor)
	terminal := isTerminal(e.topo, successor)

	if e.collector != nil {
		_ = e.collector.Collect(StepTuple{
			EpisodeID: e.episodeID,
			StepIndex: e.stepIndex,
			X:         cur.X, Y: cur.Y, VX: cur.VX, VY: cur.VY,
			DVX: act.DVX, DVY: act.DVY,
			Reward:         reward,
			NextX:          successor.X,
			NextY:          successor.Y,
			NextVX:         successor.VX,
			NextVY:         successor.VY,
			NextIsTerminal: terminal,
		})
	}

	if terminal {
		e.cur = randomStartState(e.topo, e.rng)
		e.episodeID++
		e.stepIndex = 0
	} else {
		e.cur = successor
		e.stepIndex++
	}
	return nil
}
