package gridworld

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"concord/internal/databuffer"
	"concord/internal/modelregistry"
)

// Trainer is the alpha-MC estimator: on each Train call (driven by
// internal/trainerrt on its trigger) it reads a snapshot of every
// transition currently resident in its buffer (GetData removes nothing,
// so a transition still resident is read again on the next call),
// groups them back into episodes by EpisodeID, and propagates reward backward
// from each episode's terminal step, exactly as the teacher's
// single-goroutine estimator did for its channel of *Episode values.
type Trainer struct {
	entry *modelregistry.Entry
	user  *databuffer.User[StepTuple]
	eta   float64
	log   zerolog.Logger
}

// NewTrainer returns a Trainer that updates entry's training-side model
// from transitions read through user, with learning rate eta.
func NewTrainer(entry *modelregistry.Entry, user *databuffer.User[StepTuple], eta float64, log zerolog.Logger) *Trainer {
	return &Trainer{entry: entry, user: user, eta: eta, log: log}
}

// Train performs one estimator pass over the currently buffered
// transitions.
func (t *Trainer) Train(ctx context.Context) error {
	tuples := t.user.GetData()
	if len(tuples) == 0 {
		return nil
	}

	episodes := make(map[uint64][]StepTuple)
	for _, tp := range tuples {
		episodes[tp.EpisodeID] = append(episodes[tp.EpisodeID], tp)
	}

	view := t.entry.TrainingView()
	defer view.Release()
	model, ok := view.Model().(*GridModel)
	if !ok {
		t.log.Error().Msg("gridworld: training view is not a *GridModel, skipping pass")
		return nil
	}

	for _, steps := range episodes {
		sort.Slice(steps, func(i, j int) bool { return steps[i].StepIndex < steps[j].StepIndex })
		t.applyEpisode(model, steps)
	}
	return nil
}

// applyEpisode propagates reward backward through one episode's steps,
// seeding the terminal successor's value to its terminal reward, per
// the teacher's estimator.
func (t *Trainer) applyEpisode(model *GridModel, steps []StepTuple) {
	last := steps[len(steps)-1]
	terminalSuccessor := StateIndex{X: last.NextX, Y: last.NextY, VX: last.NextVX, VY: last.NextVY}
	if last.NextIsTerminal {
		model.SetAt(terminalSuccessor, last.Reward)
	}

	reward := 0.0
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		reward += step.Reward
		s := StateIndex{X: step.X, Y: step.Y, VX: step.VX, VY: step.VY}
		val := model.ValueAt(s)
		delta := t.eta * (reward - val)
		// Intentionally discard a failed CAS: this trainer is the sole
		// writer to the training-side model (held under TrainingView
		// for the whole pass), so Add never actually races here.
		_, _ = model.AddAt(s, delta)
	}
}
