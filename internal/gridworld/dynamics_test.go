package gridworld

import (
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSuccessorFor(t *testing.T) {
	Convey("Given the debug track's topology", t, func() {
		topo := NewTopology(DebugTrack)

		Convey("a non-accelerating step holds position when velocity is zero", func() {
			cur := StateIndex{X: 1, Y: 0, VX: 0, VY: 0}
			successor := successorFor(topo, cur, Action{DVX: 0, DVY: 0})
			So(successor, ShouldResemble, StateIndex{X: 1, Y: 0, VX: 0, VY: 0})
		})

		Convey("velocity and position update together", func() {
			cur := StateIndex{X: 1, Y: 5, VX: 1, VY: 0}
			successor := successorFor(topo, cur, Action{DVX: 1, DVY: 0})
			So(successor.VX, ShouldEqual, 2)
			So(successor.X, ShouldEqual, 3)
		})

		Convey("velocity clamps at the configured maximum", func() {
			cur := StateIndex{X: 1, Y: 5, VX: MaxVelocity, VY: 0}
			successor := successorFor(topo, cur, Action{DVX: 1, DVY: 0})
			So(successor.VX, ShouldEqual, MaxVelocity)
		})

		Convey("a path crossing a wall terminates at the wall", func() {
			// DebugTrack's track is 2 cells wide at y=1; a velocity of
			// 4 to the right from x=1 must cross the wall at x=3.
			cur := StateIndex{X: 1, Y: 1, VX: 0, VY: 0}
			successor := successorFor(topo, cur, Action{DVX: MaxVelocity, DVY: 0})
			So(string(topo.CellType(successor.X, successor.Y)), ShouldEqual, string(rune(Wall)))
		})
	})
}

func TestRewardAndTerminal(t *testing.T) {
	Convey("Given the debug track's topology", t, func() {
		topo := NewTopology(DebugTrack)

		Convey("reward and terminality follow cell type", func() {
			So(rewardFor(topo, StateIndex{X: 0, Y: 0}), ShouldEqual, float64(CollisionReward))
			So(isTerminal(topo, StateIndex{X: 0, Y: 0}), ShouldBeTrue)

			finishX, finishY := findCellType(topo, Finish)
			So(rewardFor(topo, StateIndex{X: finishX, Y: finishY}), ShouldEqual, float64(FinishReward))
			So(isTerminal(topo, StateIndex{X: finishX, Y: finishY}), ShouldBeTrue)

			trackX, trackY := findCellType(topo, Track)
			So(rewardFor(topo, StateIndex{X: trackX, Y: trackY}), ShouldEqual, float64(StepReward))
			So(isTerminal(topo, StateIndex{X: trackX, Y: trackY}), ShouldBeFalse)
		})
	})
}

func TestRandomStartState(t *testing.T) {
	Convey("Given a seeded rng over the debug track", t, func() {
		topo := NewTopology(DebugTrack)
		rng := rand.New(rand.NewSource(42))

		Convey("random starts always land on a live, non-wall cell", func() {
			for i := 0; i < 200; i++ {
				s := randomStartState(topo, rng)
				ct := topo.CellType(s.X, s.Y)
				So(ct == Track || ct == Start, ShouldBeTrue)
				if ct == Start {
					So(s.VX, ShouldEqual, 0)
					So(s.VY, ShouldEqual, 0)
				} else {
					So(s.VX == 0 && s.VY == 0, ShouldBeFalse)
				}
			}
		})
	})
}

func TestMaxSuccessor(t *testing.T) {
	Convey("Given a model with one clearly best successor", t, func() {
		topo := NewTopology(DebugTrack)
		model := NewGridModel(topo, 0)

		trackX, trackY := findCellType(topo, Track)
		cur := StateIndex{X: trackX, Y: trackY, VX: 1, VY: 0}
		best := successorFor(topo, cur, Action{DVX: 1, DVY: 0})
		model.SetAt(best, 100)

		Convey("maxSuccessor finds the highest-valued reachable state", func() {
			target, _, found := maxSuccessor(topo, model, cur)
			So(found, ShouldBeTrue)
			So(target, ShouldResemble, best)
		})
	})
}

func findCellType(topo *Topology, ct rune) (int, int) {
	for x := 0; x < topo.Width; x++ {
		for y := 0; y < topo.Height; y++ {
			if topo.CellType(x, y) == ct {
				return x, y
			}
		}
	}
	panic("cell type not found in track")
}
