package gridworld

import (
	"context"
	"fmt"
	"math/rand"

	"concord/internal/modelregistry"
)

// Agent chooses an action each tick via epsilon-greedy search over the
// inference-side value estimates published by Trainer: with
// probability Epsilon it explores with a random legal action, otherwise
// it exploits by searching every legal action for the highest-valued
// resulting state.
type Agent struct {
	topo    *Topology
	entry   *modelregistry.Entry
	rng     *rand.Rand
	epsilon float64
}

// NewAgent returns an Agent that reads entry's inference side for its
// policy search, exploring with probability epsilon.
func NewAgent(topo *Topology, entry *modelregistry.Entry, rngSeed int64, epsilon float64) *Agent {
	return &Agent{
		topo:    topo,
		entry:   entry,
		rng:     rand.New(rand.NewSource(rngSeed)),
		epsilon: epsilon,
	}
}

// Step chooses an action for the observed StateIndex.
func (a *Agent) Step(ctx context.Context, obs any) (any, error) {
	cur, ok := obs.(StateIndex)
	if !ok {
		return nil, fmt.Errorf("gridworld: agent expected a StateIndex observation, got %T", obs)
	}

	if a.rng.Float64() <= a.epsilon {
		return randomAction(a.rng, cur), nil
	}

	view := a.entry.InferenceView()
	defer view.Release()
	model, ok := view.Model().(*GridModel)
	if !ok {
		return nil, fmt.Errorf("gridworld: agent expected a *GridModel inference view, got %T", view.Model())
	}

	_, action, found := maxSuccessor(a.topo, model, cur)
	if !found {
		return randomAction(a.rng, cur), nil
	}
	return action, nil
}
