package gridworld

import (
	"context"
	"io"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"concord/internal/databuffer"
	"concord/internal/interaction"
	"concord/internal/lifecycle"
	"concord/internal/modelregistry"
	"concord/internal/obslog"
	"concord/internal/orchestrator"
	"concord/internal/trainerrt"
	"concord/internal/trigger"
	"concord/internal/vclock"
)

// TestFullRuntimeStack wires an Agent/Environment interaction loop and a
// Trainer through the same orchestrator, registry, data fabric, and
// trigger machinery cmd/concord-demo uses, and checks that running them
// together actually moves a value estimate away from its initial
// constant, end to end.
func TestFullRuntimeStack(t *testing.T) {
	Convey("Given the full gridworld demo wired through the runtime stack", t, func() {
		log := obslog.New(io.Discard, "error")
		topo := NewTopology(DebugTrack)

		registry := modelregistry.NewRegistry()
		training := NewGridModel(topo, CollisionReward+1)
		inference := NewGridModel(topo, CollisionReward+1)
		entry, err := registry.Register("value-fn", training, inference)
		So(err, ShouldBeNil)

		fabric := databuffer.NewFabric()
		So(databuffer.Register[StepTuple](fabric, "transitions", 256, databuffer.Queue, StepTuple{}.FieldNames(), 3), ShouldBeNil)
		collector, err := databuffer.CollectorFor[StepTuple](fabric, "transitions")
		So(err, ShouldBeNil)
		user, err := databuffer.UserFor[StepTuple](fabric, "transitions")
		So(err, ShouldBeNil)

		o := orchestrator.New(log, 300*time.Millisecond, 200*time.Millisecond)
		clock := o.Clock()

		env := NewEnvironment(topo, 11, collector)
		agent := NewAgent(topo, entry, 13, 0.2)
		loop := interaction.NewLoop(agent, env)
		interactionGate := o.NewGate()
		fixedInteraction := interaction.NewFixedIntervalInteraction(loop, clock, interactionGate, time.Millisecond, log)
		o.RegisterThread("interaction", fixedInteraction.Run, interactionGate, nil)

		trainerGate := o.NewGate()
		trainer := NewTrainer(entry, user, 0.1, log)
		runtime := trainerrt.NewRuntime(registry, trainerGate, clock, 0, log)
		runtime.Register("estimator", trainer, trigger.NewStepCount(20), "value-fn")
		o.RegisterThread("trainer", runtime.Run, trainerGate, nil)

		Convey("Start runs both threads and converges some value away from the initial constant", func() {
			done := make(chan error, 1)
			go func() { done <- o.Start(context.Background()) }()

			select {
			case err := <-done:
				So(err, ShouldBeNil)
			case <-time.After(2 * time.Second):
				t.Fatal("orchestrator did not stop on its own max-uptime watchdog")
			}

			So(o.State().Peek(), ShouldEqual, lifecycle.Stopped)

			moved := false
			for x := 0; x < topo.Width; x++ {
				for y := 0; y < topo.Height; y++ {
					if topo.CellType(x, y) == Wall {
						continue
					}
					s := StateIndex{X: x, Y: y, VX: 0, VY: 0}
					if training.ValueAt(s) != CollisionReward+1 {
						moved = true
					}
				}
			}
			So(moved, ShouldBeTrue)
		})
	})
}
