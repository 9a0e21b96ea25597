// Package terrain builds the static triangle soup the drone flies over.
//
// A Builder collects facets during scene setup. Build freezes it and hands
// back a Model that is never mutated again, so the control loop and the
// background worker can both read it without locking.
package terrain

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/open-teleop/dronesim/pkg/geom"
)

var (
	// ErrFrozen is returned by Builder methods after Build has been called.
	ErrFrozen = errors.New("terrain builder already built")

	// ErrInvalidQuad is returned when a quad has no zero extent or more than one.
	ErrInvalidQuad = errors.New("quad must be flat along exactly one axis")
)

// Builder accumulates triangles until Build is called.
type Builder struct {
	tris   []geom.Triangle
	frozen bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddTriangle appends one facet.
func (b *Builder) AddTriangle(tri geom.Triangle) error {
	if b.frozen {
		return ErrFrozen
	}
	b.tris = append(b.tris, tri)
	return nil
}

// AddQuad appends an axis-aligned rectangle centred on center with half
// extents w (x), h (y) and d (z). Exactly one extent must be zero; the quad
// lies in the plane of the other two and is split into two triangles.
func (b *Builder) AddQuad(center geom.Vec3, w, h, d float64) error {
	if b.frozen {
		return ErrFrozen
	}
	x, y, z := center.X(), center.Y(), center.Z()

	var v0, v1, v2, v3 geom.Vec3
	switch {
	case d == 0 && w != 0 && h != 0:
		v0 = geom.Vec3{x - w, y - h, z}
		v1 = geom.Vec3{x + w, y - h, z}
		v2 = geom.Vec3{x + w, y + h, z}
		v3 = geom.Vec3{x - w, y + h, z}
	case w == 0 && h != 0 && d != 0:
		v0 = geom.Vec3{x, y - h, z - d}
		v1 = geom.Vec3{x, y - h, z + d}
		v2 = geom.Vec3{x, y + h, z + d}
		v3 = geom.Vec3{x, y + h, z - d}
	case h == 0 && w != 0 && d != 0:
		v0 = geom.Vec3{x - w, y, z - d}
		v1 = geom.Vec3{x + w, y, z - d}
		v2 = geom.Vec3{x + w, y, z + d}
		v3 = geom.Vec3{x - w, y, z + d}
	default:
		return fmt.Errorf("%w: w=%g h=%g d=%g", ErrInvalidQuad, w, h, d)
	}

	b.tris = append(b.tris,
		geom.Triangle{V0: v0, V1: v1, V2: v2},
		geom.Triangle{V0: v2, V1: v3, V2: v0},
	)
	return nil
}

// AddBox appends the six faces of an axis-aligned box (twelve triangles).
func (b *Builder) AddBox(center, half geom.Vec3) error {
	if b.frozen {
		return ErrFrozen
	}
	w, h, d := half.X(), half.Y(), half.Z()
	if w <= 0 || h <= 0 || d <= 0 {
		return fmt.Errorf("box half extents must be positive, got %v", half)
	}
	faces := []struct {
		offset  geom.Vec3
		w, h, d float64
	}{
		{geom.Vec3{0, 0, d}, w, h, 0},
		{geom.Vec3{0, 0, -d}, w, h, 0},
		{geom.Vec3{w, 0, 0}, 0, h, d},
		{geom.Vec3{-w, 0, 0}, 0, h, d},
		{geom.Vec3{0, h, 0}, w, 0, d},
		{geom.Vec3{0, -h, 0}, w, 0, d},
	}
	for _, f := range faces {
		if err := b.AddQuad(center.Add(f.offset), f.w, f.h, f.d); err != nil {
			return fmt.Errorf("box face at %v: %w", f.offset, err)
		}
	}
	return nil
}

// Mesh is an indexed triangle list, typically decoded from an asset or a
// scenario file.
type Mesh struct {
	Vertices []geom.Vec3
	Faces    [][3]int
}

// Transform places a mesh in the world: rotate about Y, then scale per
// axis, then translate.
type Transform struct {
	RotationYDeg float64
	Scale        geom.Vec3
	Translation  geom.Vec3
}

// Identity is a Transform that leaves vertices unchanged.
var Identity = Transform{Scale: geom.Vec3{1, 1, 1}}

// Apply maps one model-space vertex into world space.
func (t Transform) Apply(v geom.Vec3) geom.Vec3 {
	rotated := mgl64.Rotate3DY(mgl64.DegToRad(t.RotationYDeg)).Mul3x1(v)
	scaled := geom.Vec3{rotated.X() * t.Scale.X(), rotated.Y() * t.Scale.Y(), rotated.Z() * t.Scale.Z()}
	return scaled.Add(t.Translation)
}

// AddMesh appends every face of m after applying tf. Nothing is appended if
// any face references a vertex out of range.
func (b *Builder) AddMesh(m Mesh, tf Transform) error {
	if b.frozen {
		return ErrFrozen
	}
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= len(m.Vertices) {
				return fmt.Errorf("mesh face %d: vertex index %d out of range [0,%d)", i, idx, len(m.Vertices))
			}
		}
	}

	world := make([]geom.Vec3, len(m.Vertices))
	for i, v := range m.Vertices {
		world[i] = tf.Apply(v)
	}
	for _, f := range m.Faces {
		b.tris = append(b.tris, geom.Triangle{V0: world[f[0]], V1: world[f[1]], V2: world[f[2]]})
	}
	return nil
}

// Len reports how many triangles have been added so far.
func (b *Builder) Len() int {
	return len(b.tris)
}

// Build freezes the builder and returns the finished Model.
func (b *Builder) Build() *Model {
	b.frozen = true
	tris := make([]geom.Triangle, len(b.tris))
	copy(tris, b.tris)
	return &Model{tris: tris}
}

// Model is an immutable triangle soup. All methods are safe for concurrent use.
type Model struct {
	tris []geom.Triangle
}

// Len returns the number of triangles.
func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.tris)
}

// Triangles returns a copy of the triangles in insertion order.
func (m *Model) Triangles() []geom.Triangle {
	if m == nil {
		return nil
	}
	return append([]geom.Triangle(nil), m.tris...)
}

// Triangle returns the i-th triangle.
func (m *Model) Triangle(i int) geom.Triangle {
	return m.tris[i]
}

// Each calls fn for every triangle in insertion order until fn returns false.
func (m *Model) Each(fn func(i int, tri geom.Triangle) bool) {
	if m == nil {
		return
	}
	for i, tri := range m.tris {
		if !fn(i, tri) {
			return
		}
	}
}

// Hit describes the closest intersection along a ray.
type Hit struct {
	Distance float64
	Point    geom.Vec3
	Index    int
}

// Raycast returns the closest triangle hit along r.
func (m *Model) Raycast(r geom.Ray) (Hit, bool) {
	best := Hit{Distance: math.Inf(1), Index: -1}
	m.Each(func(i int, tri geom.Triangle) bool {
		if t, ok := r.Intersect(tri); ok && t < best.Distance {
			best.Distance = t
			best.Index = i
		}
		return true
	})
	if best.Index < 0 {
		return Hit{}, false
	}
	best.Point = r.At(best.Distance)
	return best, true
}
