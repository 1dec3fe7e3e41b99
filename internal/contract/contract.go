// Package contract defines the interfaces concord's runtime drives but
// does not implement itself: agent/environment decision logic, model
// parameter storage, and trainer bodies. These are the system boundary
// described in spec.md §6 — concrete ML, physics, and policy code is
// always user code.
package contract

import (
	"context"

	"github.com/spf13/afero"
)

// Agent observes the environment and chooses an action each tick. It is
// responsible for reading whatever inference views it needs from the
// model registry and for writing experience tuples to its collectors.
type Agent interface {
	Step(ctx context.Context, obs any) (action any, err error)
}

// Environment is the other half of the interaction loop: it produces
// observations and applies the agent's chosen actions.
type Environment interface {
	Observe(ctx context.Context) (obs any, err error)
	Affect(ctx context.Context, action any) error
}

// Model is an opaque parameter container with a serialize/deserialize
// contract and a training-to-inference publishing contract. concord
// never inspects model internals; it only calls these methods at
// well-defined synchronization points.
type Model interface {
	// CopyParamsTo mirrors this model's current parameters into dst.
	// Called by the registry's Publish, under the inference side's
	// exclusive lock; see internal/modelregistry.
	CopyParamsTo(dst Model) error
	// SaveTo/LoadFrom persist and restore parameters against a
	// persistence record subdirectory.
	SaveTo(fs afero.Fs, dir string) error
	LoadFrom(fs afero.Fs, dir string) error
}

// Trainer is a named training task driven by a trigger. Train is called
// by internal/trainerrt whenever the trainer's trigger fires. The runtime
// acquires no consumer snapshots or training-view locks on the trainer's
// behalf: Train takes its own (modelregistry.AcquireMany locks several
// entries in a fixed order).
type Trainer interface {
	Train(ctx context.Context) error
}

// Persistable is implemented by any component the persistence
// controller snapshots and restores: model entries, data buffers,
// models, and user trainers that hold extra state. The virtual clock is
// not one; the controller records its value in the record manifest.
type Persistable interface {
	SaveTo(fs afero.Fs, dir string) error
	LoadFrom(fs afero.Fs, dir string) error
}

// Pausable is an optional capability: components implementing it are
// notified of lifecycle pause/resume transitions so they can quiesce
// external resources (sockets, devices). Absent implementations get a
// no-op default — see CallOnPaused/CallOnResumed.
type Pausable interface {
	OnPaused(ctx context.Context)
	OnResumed(ctx context.Context)
}

// Setupable and Teardownable are optional one-shot lifecycle hooks,
// called once before the first tick and once after the last.
type Setupable interface {
	Setup(ctx context.Context) error
}

type Teardownable interface {
	Teardown(ctx context.Context) error
}

// CallOnPaused invokes v's OnPaused if it implements Pausable; it is a
// no-op otherwise. This realizes spec.md §9's "event hooks via method
// override" mapping: a capability set checked by type assertion, not an
// abstract method every implementer must stub out.
func CallOnPaused(ctx context.Context, v any) {
	if p, ok := v.(Pausable); ok {
		p.OnPaused(ctx)
	}
}

// CallOnResumed invokes v's OnResumed if it implements Pausable.
func CallOnResumed(ctx context.Context, v any) {
	if p, ok := v.(Pausable); ok {
		p.OnResumed(ctx)
	}
}

// CallSetup invokes v's Setup if it implements Setupable.
func CallSetup(ctx context.Context, v any) error {
	if s, ok := v.(Setupable); ok {
		return s.Setup(ctx)
	}
	return nil
}

// CallTeardown invokes v's Teardown if it implements Teardownable.
func CallTeardown(ctx context.Context, v any) error {
	if t, ok := v.(Teardownable); ok {
		return t.Teardown(ctx)
	}
	return nil
}
