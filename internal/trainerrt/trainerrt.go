// Package trainerrt runs the named trainer tasks of spec.md §4.G, one
// goroutine per trainer, each gated by its own trigger and the shared
// pause gate.
package trainerrt

import (
	"context"
	"fmt"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"concord/internal/contract"
	"concord/internal/lifecycle"
	"concord/internal/modelregistry"
	"concord/internal/trigger"
	"concord/internal/vclock"
)

// DefaultThrottle is the back-off applied between trigger polls when a
// trainer's trigger has not yet fired, per spec.md §4.G step 5.
const DefaultThrottle = time.Millisecond

type namedTrainer struct {
	name         string
	trainer      contract.Trainer
	trig         trigger.Trigger
	publishNames []string
}

// Runtime owns the set of registered trainers and drives each on its own
// goroutine once Run is called.
type Runtime struct {
	trainers []namedTrainer
	registry *modelregistry.Registry
	gate     *lifecycle.PauseGate
	clock    *vclock.Clock
	throttle time.Duration
	log      zerolog.Logger
}

// NewRuntime returns an empty Runtime. throttle of 0 selects
// DefaultThrottle.
func NewRuntime(registry *modelregistry.Registry, gate *lifecycle.PauseGate, clock *vclock.Clock, throttle time.Duration, log zerolog.Logger) *Runtime {
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	return &Runtime{registry: registry, gate: gate, clock: clock, throttle: throttle, log: log}
}

// Register adds a named trainer, its trigger, and the model-entry names
// it should Publish, one after another in the order given, after each
// successful Train call.
func (r *Runtime) Register(name string, tr contract.Trainer, trig trigger.Trigger, publishNames ...string) {
	r.trainers = append(r.trainers, namedTrainer{name: name, trainer: tr, trig: trig, publishNames: publishNames})
}

// Run spawns one goroutine per registered trainer and blocks until ctx
// is cancelled or any trainer returns a fatal error, which is then
// returned (the first one observed, per golang.org/x/sync/errgroup's
// join semantics).
func (r *Runtime) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, nt := range r.trainers {
		nt := nt
		group.Go(func() error {
			return r.runTrainer(gctx, nt)
		})
	}
	return group.Wait()
}

func (r *Runtime) runTrainer(ctx context.Context, nt namedTrainer) error {
	log := r.log.With().Str("trainer", nt.name).Logger()

	if err := contract.CallSetup(ctx, nt.trainer); err != nil {
		return fmt.Errorf("trainerrt: setup %q: %w", nt.name, err)
	}
	defer func() {
		if err := contract.CallTeardown(ctx, nt.trainer); err != nil {
			log.Error().Err(err).Msg("trainer teardown failed")
		}
	}()

	for {
		if err := r.gate.WaitIfPaused(ctx); err != nil {
			if err == lifecycle.ErrCancelled {
				return nil
			}
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		now := r.clock.Virtual()
		if !nt.trig.Fire(now) {
			select {
			case <-time.After(r.throttle):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if err := nt.trainer.Train(ctx); err != nil {
			return fmt.Errorf("trainerrt: train %q: %w", nt.name, err)
		}

		for _, name := range nt.publishNames {
			entry, err := r.registry.Get(name)
			if err != nil {
				log.Error().Err(err).Str("model", name).Msg("cannot publish: unknown model entry")
				continue
			}
			if err := entry.Publish(); err != nil {
				return fmt.Errorf("trainerrt: publish %q from %q: %w", name, nt.name, err)
			}
		}
	}
}

// FanIn merges a trainer's internally spawned worker channels into one,
// for trainers whose Train body farms work out to sub-goroutines (the
// teacher's agent-worker pattern in reinforcement.alphaMonteCarloVanillaTrain).
// It stops forwarding once done closes.
func FanIn[T any](done <-chan struct{}, workers ...<-chan T) <-chan T {
	return channerics.Merge(done, workers...)
}
