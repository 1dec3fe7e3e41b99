package gridworld

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"concord/internal/modelregistry"
)

func TestAgentStep(t *testing.T) {
	Convey("Given an Agent wired to a registry entry", t, func() {
		topo := NewTopology(DebugTrack)
		training := NewGridModel(topo, 0)
		inference := NewGridModel(topo, 0)
		registry := modelregistry.NewRegistry()
		entry, err := registry.Register("value-fn", training, inference)
		So(err, ShouldBeNil)

		Convey("epsilon=0 always exploits the inference-side values", func() {
			trackX, trackY := findCellType(topo, Track)
			cur := StateIndex{X: trackX, Y: trackY, VX: 1, VY: 0}
			best := successorFor(topo, cur, Action{DVX: 1, DVY: 0})
			inference.SetAt(best, 1000)

			agent := NewAgent(topo, entry, 1, 0.0)
			action, err := agent.Step(context.Background(), cur)
			So(err, ShouldBeNil)

			chosen := action.(Action)
			So(successorFor(topo, cur, chosen), ShouldResemble, best)
		})

		Convey("epsilon=1 always explores with a random legal action", func() {
			agent := NewAgent(topo, entry, 1, 1.0)
			cur := StateIndex{X: 1, Y: 1, VX: 0, VY: 0}
			action, err := agent.Step(context.Background(), cur)
			So(err, ShouldBeNil)
			chosen := action.(Action)
			So(cur.VX+chosen.DVX == 0 && cur.VY+chosen.DVY == 0, ShouldBeFalse)
		})

		Convey("an unrecognized observation type is reported as an error", func() {
			agent := NewAgent(topo, entry, 1, 0.0)
			_, err := agent.Step(context.Background(), "not-a-state")
			So(err, ShouldNotBeNil)
		})
	})
}
