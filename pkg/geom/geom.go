// Package geom holds the small amount of vector math shared by the terrain,
// lidar and simulation packages.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon is the tolerance used by the ray/triangle test for both the
// parallel-ray rejection and the minimum hit distance.
const Epsilon = 1e-8

// Vec3 is an (x, y, z) triple. Y is up.
type Vec3 = mgl64.Vec3

// Down is the direction of every lidar ray.
var Down = Vec3{0, -1, 0}

// Triangle is one terrain facet.
type Triangle struct {
	V0, V1, V2 Vec3
}

// Ray is a half-line starting at Origin.
type Ray struct {
	Origin Vec3
	Dir    Vec3
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float64) Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// IntersectRayTriangle runs the Möller–Trumbore test. It reports the
// distance along dir to the hit point when the ray crosses the interior of
// tri in front of origin.
func IntersectRayTriangle(origin, dir Vec3, tri Triangle) (float64, bool) {
	edge1 := tri.V1.Sub(tri.V0)
	edge2 := tri.V2.Sub(tri.V0)

	h := dir.Cross(edge2)
	det := edge1.Dot(h)
	if math.Abs(det) < Epsilon {
		return 0, false
	}

	inv := 1.0 / det
	s := origin.Sub(tri.V0)
	u := inv * s.Dot(h)
	if u < 0 || u > 1 {
		return 0, false
	}

	q := s.Cross(edge1)
	v := inv * dir.Dot(q)
	if v < 0 || u+v > 1 {
		return 0, false
	}

	t := inv * edge2.Dot(q)
	if t <= Epsilon {
		return 0, false
	}
	return t, true
}

// Intersect is IntersectRayTriangle for a Ray value.
func (r Ray) Intersect(tri Triangle) (float64, bool) {
	return IntersectRayTriangle(r.Origin, r.Dir, tri)
}

// Mix linearly interpolates between a and b.
func Mix(a, b Vec3, t float64) Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

// MixScalar linearly interpolates between a and b.
func MixScalar(a, b, t float64) float64 {
	return a + (b-a)*t
}
