package gridworld

import (
	"math"
	"math/rand"
)

// successorFor returns the state reached by applying action from cur,
// given the domain kinematics: new velocity clamped to the legal range,
// new position clamped to the grid, with a line-of-sight collision
// check substituting a wall state for the straight-line target whenever
// the path from cur to the target crosses a wall.
func successorFor(topo *Topology, cur StateIndex, action Action) StateIndex {
	newVX := clampInt(cur.VX+action.DVX, MinVelocity, MaxVelocity)
	newVY := clampInt(cur.VY+action.DVY, MinVelocity, MaxVelocity)
	newX := clampInt(cur.X+newVX, 0, topo.Width-1)
	newY := clampInt(cur.Y+newVY, 0, topo.Height-1)

	successor := StateIndex{X: newX, Y: newY, VX: newVX, VY: newVY}
	if collision, hit := checkTerminalCollision(topo, cur, newVX, newVY); hit {
		return collision
	}
	return successor
}

// checkTerminalCollision walks the unit vector of <vx,vy> from start and
// reports the first wall cell crossed, if any. This is an approximate
// line-of-sight check, not exact quadratic-path collision detection.
func checkTerminalCollision(topo *Topology, start StateIndex, vx, vy int) (state StateIndex, hit bool) {
	if vx == 0 && vy == 0 {
		return StateIndex{}, false
	}

	norm := math.Sqrt(float64(vx*vx) + float64(vy*vy))
	nvx := float64(vx) / norm
	nvy := float64(vy) / norm
	numIter := int(math.Round(float64(vx) / nvx))

	xf := float64(start.X)
	yf := float64(start.Y)
	for i := 0; i < numIter; i++ {
		xf += nvx
		x := int(math.Round(xf))
		if x < 0 || x > topo.Width-1 {
			return StateIndex{}, false
		}

		yf += nvy
		y := int(math.Round(yf))
		if y < 0 || y > topo.Height-1 {
			return StateIndex{}, false
		}

		if topo.CellType(x, y) == Wall {
			return StateIndex{X: x, Y: y, VX: 0, VY: 0}, true
		}
	}
	return StateIndex{}, false
}

// rewardFor returns the reward for stepping into target.
func rewardFor(topo *Topology, target StateIndex) float64 {
	switch topo.CellType(target.X, target.Y) {
	case Wall:
		return CollisionReward
	case Finish:
		return FinishReward
	default: // Start, Track
		return StepReward
	}
}

// isTerminal reports whether target ends the current episode.
func isTerminal(topo *Topology, target StateIndex) bool {
	ct := topo.CellType(target.X, target.Y)
	return ct == Wall || ct == Finish
}

// randomStartState picks a uniformly random START or TRACK position, per
// the Monte-Carlo random-starts exploration method. START positions
// always begin at zero velocity; TRACK positions get a random
// non-stationary velocity.
func randomStartState(topo *Topology, rng *rand.Rand) StateIndex {
	var x, y int
	for {
		x = rng.Intn(topo.Width)
		y = rng.Intn(topo.Height)
		ct := topo.CellType(x, y)
		if ct == Track || ct == Start {
			break
		}
	}

	if topo.CellType(x, y) == Start {
		return StateIndex{X: x, Y: y, VX: 0, VY: 0}
	}

	vx, vy := 0, 0
	for vx == 0 && vy == 0 {
		vx = MinVelocity + rng.Intn(NumVelocities)
		vy = MinVelocity + rng.Intn(NumVelocities)
	}
	return StateIndex{X: x, Y: y, VX: vx, VY: vy}
}

// randomAction returns a random acceleration in (-1,0,+1) per axis,
// excluding the action that would leave cur's velocity at (0,0), which
// is an invalid state by problem definition.
func randomAction(rng *rand.Rand, cur StateIndex) Action {
	var action Action
	for {
		action = Action{
			DVX: MinAcceleration + rng.Intn(NumAccelerations),
			DVY: MinAcceleration + rng.Intn(NumAccelerations),
		}
		if cur.VX+action.DVX != 0 || cur.VY+action.DVY != 0 {
			return action
		}
	}
}

// maxSuccessor searches every legal acceleration from cur and returns
// the highest-valued resulting state and the action that reaches it,
// per model's current value estimates. Collision is accounted for
// through successorFor, so an action leading through a wall is
// evaluated at the wall's (low) value like any other candidate.
func maxSuccessor(topo *Topology, model *GridModel, cur StateIndex) (target StateIndex, action Action, found bool) {
	maxVal := -math.MaxFloat64
	for dvx := MinAcceleration; dvx <= MaxAcceleration; dvx++ {
		newVX := cur.VX + dvx
		if newVX > MaxVelocity || newVX < MinVelocity {
			continue
		}
		for dvy := MinAcceleration; dvy <= MaxAcceleration; dvy++ {
			newVY := cur.VY + dvy
			if newVY > MaxVelocity || newVY < MinVelocity {
				continue
			}
			if newVX == 0 && newVY == 0 {
				continue
			}

			candidate := Action{DVX: dvx, DVY: dvy}
			successor := successorFor(topo, cur, candidate)
			val := model.ValueAt(successor)
			if val > maxVal {
				maxVal = val
				target = successor
				action = candidate
				found = true
			}
		}
	}
	return
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
