// Package orchestrator implements the thread orchestrator of spec.md
// §4.H: it owns the process-wide lifecycle latch and fatal-error slot,
// and sequences startup, pause, resume, and shutdown across the
// control, interaction, and trainer threads.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"concord/internal/contract"
	"concord/internal/lifecycle"
	"concord/internal/trigger"
	"concord/internal/vclock"
)

// FatalError wraps the first error reported by any orchestrated thread,
// re-raised from the launcher's top level after join, per spec.md §4.H.
type FatalError struct {
	Thread string
	Err    error
}

func (f *FatalError) Error() string {
	return fmt.Sprintf("orchestrator: fatal error in thread %q: %v", f.Thread, f.Err)
}

func (f *FatalError) Unwrap() error { return f.Err }

// Thread is a registered unit of orchestrated work: a name, its run
// function, and the PauseGate it suspends on (used to drive pause
// quiescence tracking). Components that hold extra state implementing
// contract.Setupable/Teardownable are invoked during startup/shutdown.
type Thread struct {
	Name     string
	Run      func(ctx context.Context) error
	Gate     *lifecycle.PauseGate
	Hooks    any // optionally contract.Setupable and/or contract.Teardownable
	quiesced atomic.Bool
	ready    atomic.Bool
}

// Orchestrator owns the lifecycle latch, the registered threads, and the
// fatal-error slot.
type Orchestrator struct {
	state   *lifecycle.Latch[lifecycle.State]
	clock   *vclock.Clock
	log     zerolog.Logger
	threads []*Thread

	maxUptime time.Duration

	fatalOnce sync.Once
	fatal     *FatalError

	shutdownGrace time.Duration

	// transitionMu serializes Pause/Resume/Shutdown so a transition's
	// current-state guard and its state.Publish/clock notification
	// happen atomically with respect to other callers.
	transitionMu sync.Mutex
}

// New returns an Orchestrator in the INITIALIZING state.
func New(log zerolog.Logger, maxUptime, shutdownGrace time.Duration) *Orchestrator {
	state := lifecycle.NewLatch(lifecycle.Initializing)
	return &Orchestrator{
		state:         state,
		clock:         vclock.New(state),
		log:           log,
		maxUptime:     maxUptime,
		shutdownGrace: shutdownGrace,
	}
}

// State returns the current lifecycle latch for components (such as
// vclock.Clock) that need to observe it directly.
func (o *Orchestrator) State() *lifecycle.Latch[lifecycle.State] {
	return o.state
}

// Clock returns the orchestrator's virtual clock.
func (o *Orchestrator) Clock() *vclock.Clock {
	return o.clock
}

// NewGate returns a new PauseGate over the orchestrator's lifecycle
// latch, wired so the orchestrator can observe this thread's quiescence
// once it pauses. Callers should register the returned gate via
// RegisterThread's Gate field.
func (o *Orchestrator) NewGate() *lifecycle.PauseGate {
	return lifecycle.NewPauseGate(o.state)
}

// RegisterThread adds a thread to be spawned on Start. hooks may
// implement contract.Setupable and/or contract.Teardownable; pass nil if
// neither applies.
func (o *Orchestrator) RegisterThread(name string, run func(ctx context.Context) error, gate *lifecycle.PauseGate, hooks any) {
	th := &Thread{Name: name, Run: run, Gate: gate, Hooks: hooks}
	gate.SetOnBlock(func() { th.quiesced.Store(true) })
	o.threads = append(o.threads, th)
}

// Start runs setup on every registered thread's hooks, spawns each
// thread's Run function, and moves the lifecycle to RUNNING once all
// have been spawned. It blocks until ctx is cancelled, Shutdown is
// called, or a thread reports a fatal error — whichever comes first —
// and returns the stored FatalError, if any.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.state.Publish(lifecycle.Initializing)
	for _, th := range o.threads {
		if err := contract.CallSetup(ctx, th.Hooks); err != nil {
			return &FatalError{Thread: th.Name, Err: fmt.Errorf("setup: %w", err)}
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, th := range o.threads {
		th := th
		group.Go(func() error {
			th.ready.Store(true)
			if err := th.Run(gctx); err != nil {
				o.reportFatal(th.Name, err)
				return err
			}
			return nil
		})
	}

	o.awaitAllReady(gctx)

	o.state.Publish(lifecycle.Running)
	o.log.Info().Int("threads", len(o.threads)).Msg("orchestrator running")

	if o.maxUptime > 0 {
		group.Go(func() error {
			return o.runMaxUptimeWatchdog(gctx, cancel)
		})
	}

	err := group.Wait()

	for _, th := range o.threads {
		tctx, tcancel := context.WithTimeout(context.Background(), o.shutdownGrace)
		_ = contract.CallTeardown(tctx, th.Hooks)
		tcancel()
	}

	o.state.Publish(lifecycle.Stopped)

	if o.fatal != nil {
		return o.fatal
	}
	return err
}

// awaitAllReady blocks until every registered thread's ready bit is set
// or ctx is cancelled, so RUNNING is only published once every thread
// has actually been scheduled and entered its loop (spec.md §4.H step 3).
func (o *Orchestrator) awaitAllReady(ctx context.Context) {
	for {
		allReady := true
		for _, th := range o.threads {
			if !th.ready.Load() {
				allReady = false
				break
			}
		}
		if allReady {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func (o *Orchestrator) runMaxUptimeWatchdog(ctx context.Context, shutdown context.CancelFunc) error {
	watchdog := trigger.NewTimeInterval(o.maxUptime.Seconds(), o.clock.Virtual())
	const pollInterval = 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
		if st := o.state.Peek(); st == lifecycle.ShuttingDown || st == lifecycle.Stopped {
			return nil
		}
		if watchdog.Fire(o.clock.Virtual()) {
			o.log.Info().Msg("max uptime reached, initiating shutdown")
			o.Shutdown()
			shutdown()
			return nil
		}
	}
}

func (o *Orchestrator) reportFatal(thread string, err error) {
	o.fatalOnce.Do(func() {
		o.fatal = &FatalError{Thread: thread, Err: err}
		o.log.Error().Str("thread", thread).Err(err).Msg("fatal error, shutting down")
		o.state.Publish(lifecycle.ShuttingDown)
	})
}

// Pause moves the lifecycle to PAUSED and blocks (up to timeout) until
// every registered thread has reported reaching its pause-gate
// quiescent point. Pausing an already-PAUSED orchestrator is a no-op: a
// second Publish/NotifyPaused pair would reset pausedAt to the second
// call's wall time, silently dropping the interval between the two
// calls from the paused-duration accumulator (spec.md §4.A). Pause is
// only valid from RUNNING; any other state is rejected.
func (o *Orchestrator) Pause(timeout time.Duration) error {
	o.transitionMu.Lock()
	switch o.state.Peek() {
	case lifecycle.Paused:
		o.transitionMu.Unlock()
		return nil
	case lifecycle.Running:
	default:
		cur := o.state.Peek()
		o.transitionMu.Unlock()
		return fmt.Errorf("orchestrator: cannot pause from state %s", cur)
	}

	for _, th := range o.threads {
		th.quiesced.Store(false)
	}
	o.state.Publish(lifecycle.Paused)
	o.clock.NotifyPaused()
	o.transitionMu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		allQuiesced := true
		for _, th := range o.threads {
			if !th.quiesced.Load() {
				allQuiesced = false
				break
			}
		}
		if allQuiesced {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("orchestrator: timed out waiting for threads to quiesce")
		}
		time.Sleep(time.Millisecond)
	}
}

// Resume moves the lifecycle back to RUNNING, waking every pause gate.
// Only valid from PAUSED; called from any other state (e.g. racing a
// Shutdown) it is a no-op, since moving ShuttingDown or Stopped back to
// Running would violate the monotonic-past-SHUTTING_DOWN ordering.
func (o *Orchestrator) Resume() {
	o.transitionMu.Lock()
	defer o.transitionMu.Unlock()
	if o.state.Peek() != lifecycle.Paused {
		return
	}
	o.clock.NotifyResumed()
	o.state.Publish(lifecycle.Running)
}

// Shutdown moves the lifecycle to SHUTTING_DOWN; every pause gate raises
// ErrCancelled and in-flight VirtualSleeps return early. Idempotent:
// already being in SHUTTING_DOWN or STOPPED is a no-op, since transitions
// are monotonic past SHUTTING_DOWN.
func (o *Orchestrator) Shutdown() {
	o.transitionMu.Lock()
	defer o.transitionMu.Unlock()
	switch o.state.Peek() {
	case lifecycle.ShuttingDown, lifecycle.Stopped:
		return
	}
	o.state.Publish(lifecycle.ShuttingDown)
}

// FatalErrorOrNil returns the stored fatal error, if any thread has
// reported one.
func (o *Orchestrator) FatalErrorOrNil() error {
	if o.fatal == nil {
		return nil
	}
	return o.fatal
}

// ThreadStatus reports one registered thread's readiness, for the
// control surface's status command.
type ThreadStatus struct {
	Name  string
	Ready bool
}

// ThreadStatuses returns the readiness of every registered thread.
func (o *Orchestrator) ThreadStatuses() []ThreadStatus {
	out := make([]ThreadStatus, 0, len(o.threads))
	for _, th := range o.threads {
		out = append(out, ThreadStatus{Name: th.Name, Ready: th.ready.Load()})
	}
	return out
}

// StateString returns the current lifecycle state's string form.
func (o *Orchestrator) StateString() string {
	return o.state.Peek().String()
}
