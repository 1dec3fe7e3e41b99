// Package gridworld is the demo domain wired into cmd/concord-demo: the
// classical race-track Monte-Carlo control problem, implementing
// contract.Agent, contract.Environment, contract.Model, and
// contract.Trainer so it can be driven end to end by the rest of
// concord's runtime.
package gridworld

// Cell types found in a track layout string.
const (
	Wall   = 'W'
	Track  = 'o'
	Start  = '-'
	Finish = '+'
)

// Kinematic bounds: a velocity of 1 means traveling one grid cell per
// time step in that axis.
const (
	MaxVelocity      = 4
	MinVelocity      = -MaxVelocity
	NumVelocities    = MaxVelocity - MinVelocity + 1
	MaxAcceleration  = 1
	MinAcceleration  = -1
	NumAccelerations = MaxAcceleration - MinAcceleration + 1
)

// Reward constants per spec.md's carried-over cell-type reward table.
const (
	CollisionReward = -5
	StepReward      = -1
	FinishReward    = 10
)

// DebugTrack is a small track for fast iteration and tests.
var DebugTrack = []string{
	"WWWWWW",
	"Woooo+",
	"Woooo+",
	"WooWWW",
	"WooWWW",
	"WooWWW",
	"WooWWW",
	"W--WWW",
}

// FullTrack is the full-size classical race track.
var FullTrack = []string{
	"WWWWWWWWWWWWWWWWWW",
	"WWWWooooooooooooo+",
	"WWWoooooooooooooo+",
	"WWWoooooooooooooo+",
	"WWooooooooooooooo+",
	"Woooooooooooooooo+",
	"Woooooooooooooooo+",
	"WooooooooooWWWWWWW",
	"WoooooooooWWWWWWWW",
	"WoooooooooWWWWWWWW",
	"WoooooooooWWWWWWWW",
	"WoooooooooWWWWWWWW",
	"WoooooooooWWWWWWWW",
	"WoooooooooWWWWWWWW",
	"WoooooooooWWWWWWWW",
	"WWooooooooWWWWWWWW",
	"WWooooooooWWWWWWWW",
	"WWooooooooWWWWWWWW",
	"WWooooooooWWWWWWWW",
	"WWooooooooWWWWWWWW",
	"WWooooooooWWWWWWWW",
	"WWooooooooWWWWWWWW",
	"WWooooooooWWWWWWWW",
	"WWWoooooooWWWWWWWW",
	"WWWoooooooWWWWWWWW",
	"WWWoooooooWWWWWWWW",
	"WWWoooooooWWWWWWWW",
	"WWWoooooooWWWWWWWW",
	"WWWoooooooWWWWWWWW",
	"WWWoooooooWWWWWWWW",
	"WWWWooooooWWWWWWWW",
	"WWWWooooooWWWWWWWW",
	"WWWW------WWWWWWWW",
}

// StateIndex identifies one position/velocity substate. Velocities are
// the actual kinematic values (within [MinVelocity, MaxVelocity]), not
// matrix indices; callers use velocityIndex to convert.
type StateIndex struct {
	X, Y, VX, VY int
}

// Action is a velocity increment/decrement applied in a single tick.
type Action struct {
	DVX, DVY int
}

// Topology is the fixed cell-type layout a track compiles to: walls,
// track, start, and finish cells. It never changes during training, so
// it is shared by the training and inference sides of a GridModel and
// by the Agent's lookahead search, unlike the per-state values, which
// are each side's own parameters.
type Topology struct {
	Width, Height int
	cellTypes     [][]rune // [x][y], (0,0) is the bottom-left of the printed track
}

// NewTopology converts a track layout (one string per printed row, top
// to bottom) into a Topology. The bottom-left corner of the printed
// track is (0,0), so that +1 velocity yields +1 position, matching the
// problem's kinematics.
func NewTopology(track []string) *Topology {
	width := len(track[0])
	height := len(track)

	t := &Topology{Width: width, Height: height, cellTypes: make([][]rune, width)}
	for x := 0; x < width; x++ {
		t.cellTypes[x] = make([]rune, height)
		for y := 0; y < height; y++ {
			t.cellTypes[x][y] = rune(track[height-y-1][x])
		}
	}
	return t
}

// CellType returns the cell type at (x, y).
func (t *Topology) CellType(x, y int) rune {
	return t.cellTypes[x][y]
}

// IsLive reports whether (x, y) is a position an agent can legally
// occupy (i.e. is not a wall).
func (t *Topology) IsLive(x, y int) bool {
	return t.CellType(x, y) != Wall
}

// velocityIndex converts an actual velocity value to its matrix index.
func velocityIndex(v int) int {
	return v - MinVelocity
}
