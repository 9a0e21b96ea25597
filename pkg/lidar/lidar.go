// Package lidar simulates the downward-looking range sensor.
package lidar

import (
	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/terrain"
	"gonum.org/v1/gonum/floats"
)

const (
	// NoGround marks a cell where no surface was found below the drone.
	NoGround = -999.0

	DefaultSize    = 5
	DefaultSpacing = 25.0
)

// Grid is a Size x Size height map. Row i runs along Z, column j along X.
type Grid [][]float64

// Sampler casts a square grid of vertical rays around the drone.
type Sampler struct {
	Size    int
	Spacing float64
	Terrain *terrain.Model
}

// NewSampler returns a sampler with the default 5x5 grid and 25 unit spacing.
func NewSampler(model *terrain.Model) *Sampler {
	return &Sampler{Size: DefaultSize, Spacing: DefaultSpacing, Terrain: model}
}

func (s *Sampler) size() int {
	if s.Size <= 0 {
		return DefaultSize
	}
	return s.Size
}

// Offset returns the horizontal displacement of grid index idx from the
// grid centre. Even sizes are centred between the two middle cells.
func Offset(idx, size int, spacing float64) float64 {
	return (float64(idx) - float64(size-1)/2) * spacing
}

// Scan samples the terrain around pos. Every cell keeps the highest hit
// that is strictly below pos.Y(); cells without one hold NoGround.
// The cost is Size*Size*len(triangles) intersection tests.
func (s *Sampler) Scan(pos geom.Vec3) Grid {
	n := s.size()
	grid := make(Grid, n)
	for i := range grid {
		row := make([]float64, n)
		for j := range row {
			origin := geom.Vec3{
				pos.X() + Offset(j, n, s.Spacing),
				pos.Y(),
				pos.Z() + Offset(i, n, s.Spacing),
			}
			row[j] = s.sample(origin)
		}
		grid[i] = row
	}
	return grid
}

func (s *Sampler) sample(origin geom.Vec3) float64 {
	best := NoGround
	found := false
	s.Terrain.Each(func(_ int, tri geom.Triangle) bool {
		t, ok := geom.IntersectRayTriangle(origin, geom.Down, tri)
		if !ok {
			return true
		}
		y := origin.Y() - t
		if y < origin.Y() && (!found || y > best) {
			best = y
			found = true
		}
		return true
	})
	return best
}

// Clone returns a deep copy.
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Size returns the number of rows.
func (g Grid) Size() int { return len(g) }

// Flatten returns the cells in row-major order.
func (g Grid) Flatten() []float64 {
	out := make([]float64, 0, len(g)*len(g))
	for _, row := range g {
		out = append(out, row...)
	}
	return out
}

// Stats summarises the measured cells of a grid.
type Stats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Missing int     `json:"missing"`
}

// Stats ignores NoGround cells. Min, Max and Mean are NoGround when every
// cell is missing, which keeps the result JSON encodable.
func (g Grid) Stats() Stats {
	measured := make([]float64, 0, len(g)*len(g))
	missing := 0
	for _, row := range g {
		for _, v := range row {
			if v == NoGround {
				missing++
				continue
			}
			measured = append(measured, v)
		}
	}
	if len(measured) == 0 {
		return Stats{Min: NoGround, Max: NoGround, Mean: NoGround, Missing: missing}
	}
	return Stats{
		Min:     floats.Min(measured),
		Max:     floats.Max(measured),
		Mean:    floats.Sum(measured) / float64(len(measured)),
		Missing: missing,
	}
}

// Point is one measured cell in world space.
type Point struct {
	Row int
	Col int
	geom.Vec3
}

// Points maps measured cells back to world coordinates around pos.
func (g Grid) Points(pos geom.Vec3, spacing float64) []Point {
	n := len(g)
	var out []Point
	for i, row := range g {
		for j, v := range row {
			if v == NoGround {
				continue
			}
			out = append(out, Point{
				Row:  i,
				Col:  j,
				Vec3: geom.Vec3{pos.X() + Offset(j, n, spacing), v, pos.Z() + Offset(i, n, spacing)},
			})
		}
	}
	return out
}
