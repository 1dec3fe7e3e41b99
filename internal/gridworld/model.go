package gridworld

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"concord/internal/atomicfloat"
	"concord/internal/contract"
)

// GridModel is the trained parameter set: a per-state value function
// over the track's position/velocity space. It satisfies
// contract.Model, so internal/modelregistry can hold a training and an
// inference side of it and publish one into the other under lock.
type GridModel struct {
	topo   *Topology
	values [][][][]*atomicfloat.Float64 // [x][y][vxIndex][vyIndex]
}

// NewGridModel returns a GridModel over topo with every value
// initialized to initVal (the teacher initializes values slightly above
// the collision reward, for estimator stability).
func NewGridModel(topo *Topology, initVal float64) *GridModel {
	m := &GridModel{topo: topo}
	m.values = make([][][][]*atomicfloat.Float64, topo.Width)
	for x := 0; x < topo.Width; x++ {
		m.values[x] = make([][][]*atomicfloat.Float64, topo.Height)
		for y := 0; y < topo.Height; y++ {
			m.values[x][y] = make([][]*atomicfloat.Float64, NumVelocities)
			for vxi := 0; vxi < NumVelocities; vxi++ {
				m.values[x][y][vxi] = make([]*atomicfloat.Float64, NumVelocities)
				for vyi := 0; vyi < NumVelocities; vyi++ {
					m.values[x][y][vxi][vyi] = atomicfloat.New(initVal)
				}
			}
		}
	}
	return m
}

// Topology returns the model's fixed track layout.
func (m *GridModel) Topology() *Topology { return m.topo }

// ValueAt returns the current value estimate for s.
func (m *GridModel) ValueAt(s StateIndex) float64 {
	return m.cell(s).Read()
}

// SetAt assigns the value estimate for s.
func (m *GridModel) SetAt(s StateIndex, val float64) {
	m.cell(s).Set(val)
}

// AddAt atomically adds delta to s's value estimate with a single CAS
// attempt (no retry), matching the teacher's single-estimator-writer
// assumption: callers
// that may race must retry on a failed add.
func (m *GridModel) AddAt(s StateIndex, delta float64) (newVal float64, ok bool) {
	return m.cell(s).Add(delta)
}

func (m *GridModel) cell(s StateIndex) *atomicfloat.Float64 {
	return m.values[s.X][s.Y][velocityIndex(s.VX)][velocityIndex(s.VY)]
}

// CopyParamsTo mirrors this model's current values into dst, cell by
// cell. dst must be a *GridModel over the same Topology; this is called
// by modelregistry.Entry.Publish under its own lock, so no additional
// synchronization is needed here.
func (m *GridModel) CopyParamsTo(dst contract.Model) error {
	other, ok := dst.(*GridModel)
	if !ok {
		return fmt.Errorf("gridworld: CopyParamsTo requires a *GridModel, got %T", dst)
	}
	if other.topo.Width != m.topo.Width || other.topo.Height != m.topo.Height {
		return fmt.Errorf("gridworld: CopyParamsTo topology mismatch")
	}
	for x := 0; x < m.topo.Width; x++ {
		for y := 0; y < m.topo.Height; y++ {
			for vxi := 0; vxi < NumVelocities; vxi++ {
				for vyi := 0; vyi < NumVelocities; vyi++ {
					other.values[x][y][vxi][vyi].Set(m.values[x][y][vxi][vyi].Read())
				}
			}
		}
	}
	return nil
}

type persistedValues struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Flat   []float64 `json:"flat"`
}

// SaveTo persists the value matrix, flattened in x/y/vx/vy order, to
// dir/values.json. The topology itself is not persisted: it is rebuilt
// from the configured track on every startup.
func (m *GridModel) SaveTo(fs afero.Fs, dir string) error {
	flat := make([]float64, 0, m.topo.Width*m.topo.Height*NumVelocities*NumVelocities)
	for x := 0; x < m.topo.Width; x++ {
		for y := 0; y < m.topo.Height; y++ {
			for vxi := 0; vxi < NumVelocities; vxi++ {
				for vyi := 0; vyi < NumVelocities; vyi++ {
					flat = append(flat, m.values[x][y][vxi][vyi].Read())
				}
			}
		}
	}

	data, err := json.Marshal(persistedValues{Width: m.topo.Width, Height: m.topo.Height, Flat: flat})
	if err != nil {
		return fmt.Errorf("gridworld: marshal values: %w", err)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("gridworld: mkdir %s: %w", dir, err)
	}
	return afero.WriteFile(fs, filepath.Join(dir, "values.json"), data, 0o644)
}

// LoadFrom restores the value matrix from a prior SaveTo. It returns an
// error if the persisted dimensions do not match the current topology,
// which would mean the configured track changed since the record was
// written.
func (m *GridModel) LoadFrom(fs afero.Fs, dir string) error {
	data, err := afero.ReadFile(fs, filepath.Join(dir, "values.json"))
	if err != nil {
		return fmt.Errorf("gridworld: read values: %w", err)
	}
	var pv persistedValues
	if err := json.Unmarshal(data, &pv); err != nil {
		return fmt.Errorf("gridworld: unmarshal values: %w", err)
	}
	if pv.Width != m.topo.Width || pv.Height != m.topo.Height {
		return fmt.Errorf("gridworld: persisted track dimensions (%dx%d) do not match configured track (%dx%d)",
			pv.Width, pv.Height, m.topo.Width, m.topo.Height)
	}

	i := 0
	for x := 0; x < m.topo.Width; x++ {
		for y := 0; y < m.topo.Height; y++ {
			for vxi := 0; vxi < NumVelocities; vxi++ {
				for vyi := 0; vyi < NumVelocities; vyi++ {
					m.values[x][y][vxi][vyi].Set(pv.Flat[i])
					i++
				}
			}
		}
	}
	return nil
}

// GridString renders the track's cell types, for console/debug display.
func (m *GridModel) GridString() string {
	var b strings.Builder
	for y := m.topo.Height - 1; y >= 0; y-- {
		for x := 0; x < m.topo.Width; x++ {
			fmt.Fprintf(&b, "%c ", m.topo.CellType(x, y))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// MaxValuesString renders, for each x/y position, the value of its
// highest-valued non-stationary velocity substate, rounded to two
// decimal places for console display.
func (m *GridModel) MaxValuesString() string {
	var b strings.Builder
	b.WriteString("Max vals:\n")
	total := 0.0
	for y := m.topo.Height - 1; y >= 0; y-- {
		for x := 0; x < m.topo.Width; x++ {
			val := m.maxVelocityValue(x, y)
			fmt.Fprintf(&b, "%.2f ", val)
			total += val
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "total: %.2f\n", total)
	return b.String()
}

// maxVelocityValue returns the highest value among (x,y)'s
// non-stationary velocity substates.
func (m *GridModel) maxVelocityValue(x, y int) float64 {
	maxVal := -1e308
	for vxi := 0; vxi < NumVelocities; vxi++ {
		for vyi := 0; vyi < NumVelocities; vyi++ {
			if vxi == velocityIndex(0) && vyi == velocityIndex(0) {
				continue
			}
			if v := m.values[x][y][vxi][vyi].Read(); v > maxVal {
				maxVal = v
			}
		}
	}
	return maxVal
}
