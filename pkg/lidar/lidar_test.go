package lidar

import (
	"math"
	"testing"

	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/terrain"
)

func flatGround(t *testing.T, h float64) *terrain.Model {
	t.Helper()
	b := terrain.NewBuilder()
	if err := b.AddQuad(geom.Vec3{0, h, 0}, 1000, 0, 1000); err != nil {
		t.Fatalf("AddQuad failed: %v", err)
	}
	return b.Build()
}

func TestScanFlatTerrain(t *testing.T) {
	const h = 40.0
	s := NewSampler(flatGround(t, h))

	tests := []struct {
		name   string
		height float64
		want   float64
	}{
		{"drone above ground", 200, h},
		{"drone below ground", 10, NoGround},
		{"drone exactly on ground", h, NoGround},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := s.Scan(geom.Vec3{3, tt.height, -7})
			if g.Size() != DefaultSize {
				t.Fatalf("Expected %d rows, got %d", DefaultSize, g.Size())
			}
			for i, row := range g {
				if len(row) != DefaultSize {
					t.Fatalf("Row %d: expected %d cells, got %d", i, DefaultSize, len(row))
				}
				for j, v := range row {
					if math.Abs(v-tt.want) > 1e-9 {
						t.Errorf("Cell (%d,%d): expected %f, got %f", i, j, tt.want, v)
					}
				}
			}
		})
	}
}

func TestScanKeepsHighestBelowDrone(t *testing.T) {
	b := terrain.NewBuilder()
	_ = b.AddQuad(geom.Vec3{0, 0, 0}, 1000, 0, 1000)
	// A roof over the centre cell only, and a ceiling above the drone.
	_ = b.AddQuad(geom.Vec3{5, 80, -4}, 5, 0, 5)
	_ = b.AddQuad(geom.Vec3{0, 500, 0}, 1000, 0, 1000)
	s := &Sampler{Size: 3, Spacing: 25, Terrain: b.Build()}

	g := s.Scan(geom.Vec3{3, 200, -7})
	for i, row := range g {
		for j, v := range row {
			want := 0.0
			if i == 1 && j == 1 {
				want = 80
			}
			if math.Abs(v-want) > 1e-9 {
				t.Errorf("Cell (%d,%d): expected %f, got %f", i, j, want, v)
			}
		}
	}
}

func TestScanGridOrientation(t *testing.T) {
	b := terrain.NewBuilder()
	// Raised strip under positive X offsets only.
	_ = b.AddQuad(geom.Vec3{40, 10, 0}, 20, 0, 1000)
	s := NewSampler(b.Build())

	g := s.Scan(geom.Vec3{0, 100, 0})
	for i := range g {
		for j, v := range g[i] {
			x := Offset(j, 5, 25)
			inStrip := x >= 20 && x <= 60
			if inStrip && v != 10 {
				t.Errorf("Cell (%d,%d) at x=%f: expected 10, got %f", i, j, x, v)
			}
			if !inStrip && v != NoGround {
				t.Errorf("Cell (%d,%d) at x=%f: expected NoGround, got %f", i, j, x, v)
			}
		}
	}
}

func TestStats(t *testing.T) {
	g := Grid{{1, 2, NoGround}, {3, NoGround, 5}, {6, 7, 8}}
	st := g.Stats()
	if st.Min != 1 || st.Max != 8 || st.Missing != 2 {
		t.Errorf("Unexpected stats: %+v", st)
	}
	if math.Abs(st.Mean-32.0/7.0) > 1e-12 {
		t.Errorf("Expected mean %f, got %f", 32.0/7.0, st.Mean)
	}

	empty := Grid{{NoGround}}.Stats()
	if empty.Mean != NoGround || empty.Min != NoGround || empty.Missing != 1 {
		t.Errorf("Expected NoGround stats for all-missing grid, got %+v", empty)
	}
}

func TestPoints(t *testing.T) {
	g := Grid{{1, NoGround, 3}, {4, 5, 6}, {7, 8, 9}}
	pts := g.Points(geom.Vec3{100, 200, -50}, 25)
	if len(pts) != 8 {
		t.Fatalf("Expected 8 points, got %d", len(pts))
	}
	first := pts[0]
	if first.Row != 0 || first.Col != 0 || !first.Vec3.ApproxEqual(geom.Vec3{75, 1, -75}) {
		t.Errorf("Unexpected first point: %+v", first)
	}
	last := pts[len(pts)-1]
	if !last.Vec3.ApproxEqual(geom.Vec3{125, 9, -25}) {
		t.Errorf("Unexpected last point: %+v", last)
	}
}

func TestClone(t *testing.T) {
	g := Grid{{1, 2}, {3, 4}}
	c := g.Clone()
	c[0][0] = 99
	if g[0][0] != 1 {
		t.Errorf("Clone shares storage with the original")
	}
	if got := g.Flatten(); len(got) != 4 || got[3] != 4 {
		t.Errorf("Unexpected flatten result %v", got)
	}
}

func TestOffsetIsCentred(t *testing.T) {
	tests := []struct {
		idx, size int
		spacing   float64
		want      float64
	}{
		{0, 5, 25, -50},
		{2, 5, 25, 0},
		{4, 5, 25, 50},
		{0, 4, 10, -15},
		{1, 4, 10, -5},
		{3, 4, 10, 15},
		{0, 1, 25, 0},
	}
	for _, tt := range tests {
		if got := Offset(tt.idx, tt.size, tt.spacing); got != tt.want {
			t.Errorf("Offset(%d, %d, %g) = %f, want %f", tt.idx, tt.size, tt.spacing, got, tt.want)
		}
	}
}

func TestScanEvenGridIsSymmetric(t *testing.T) {
	b := terrain.NewBuilder()
	// Raised strip under positive X offsets only.
	_ = b.AddQuad(geom.Vec3{20, 10, 0}, 10, 0, 1000)
	s := &Sampler{Size: 4, Spacing: 10, Terrain: b.Build()}

	g := s.Scan(geom.Vec3{0, 100, 3})
	for i := range g {
		// Columns sit at x = -15, -5, 5, 15; only x=15 is over the strip.
		for j, v := range g[i] {
			want := NoGround
			if j == 3 {
				want = 10
			}
			if v != want {
				t.Errorf("Cell (%d,%d): expected %f, got %f", i, j, want, v)
			}
		}
	}
}
