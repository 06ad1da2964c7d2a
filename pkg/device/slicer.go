package device

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/models"
	"brickstream/pkg/compositor"
)

// PlaneSlicer cuts bricks with planes perpendicular to the view ray. Plane
// positions are multiples of dt along the ray so slices from neighbouring
// bricks line up.
type PlaneSlicer struct {
	// MaxSlices caps the slices per brick; zero means no cap
	MaxSlices int
}

var boxEdges = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

func corners(b r3.Box) [8]r3.Vec {
	var c [8]r3.Vec
	for i := range c {
		c[i] = b.Min
		if i&1 != 0 {
			c[i].X = b.Max.X
		}
		if i&2 != 0 {
			c[i].Y = b.Max.Y
		}
		if i&4 != 0 {
			c[i].Z = b.Max.Z
		}
	}
	return c
}

// Slices returns the brick's cross sections, nearest to the eye first
func (s PlaneSlicer) Slices(b *models.Brick, ray models.Ray, dt float64) []compositor.Polygon {
	dir := ray.Dir
	if dt <= 0 || r3.Norm(dir) == 0 {
		return nil
	}
	dir = r3.Unit(dir)
	cs := corners(b.Box)

	lo, hi := math.Inf(1), math.Inf(-1)
	var proj [8]float64
	for i, c := range cs {
		proj[i] = r3.Dot(c, dir)
		lo = math.Min(lo, proj[i])
		hi = math.Max(hi, proj[i])
	}

	var polys []compositor.Polygon
	for d := math.Floor(lo/dt)*dt + dt/2; d < hi; d += dt {
		if d <= lo {
			continue
		}
		poly, ok := cut(b.Box, cs, proj, dir, d)
		if !ok {
			continue
		}
		polys = append(polys, poly)
		if s.MaxSlices > 0 && len(polys) == s.MaxSlices {
			break
		}
	}
	return polys
}

// cut intersects the plane dot(x, dir) = d with the box edges
func cut(box r3.Box, cs [8]r3.Vec, proj [8]float64, dir r3.Vec, d float64) (compositor.Polygon, bool) {
	var pts []r3.Vec
	for _, e := range boxEdges {
		a, b := proj[e[0]], proj[e[1]]
		if (a-d)*(b-d) > 0 || a == b {
			continue
		}
		t := (d - a) / (b - a)
		pts = append(pts, r3.Add(cs[e[0]], r3.Scale(t, r3.Sub(cs[e[1]], cs[e[0]]))))
	}
	if len(pts) < 3 {
		return compositor.Polygon{}, false
	}

	var center r3.Vec
	for _, p := range pts {
		center = r3.Add(center, p)
	}
	center = r3.Scale(1/float64(len(pts)), center)

	// order the vertices around the centre within the plane
	u := r3.Unit(r3.Cross(dir, pick(dir)))
	v := r3.Cross(dir, u)
	sort.Slice(pts, func(i, j int) bool {
		pi, pj := r3.Sub(pts[i], center), r3.Sub(pts[j], center)
		return math.Atan2(r3.Dot(pi, v), r3.Dot(pi, u)) < math.Atan2(r3.Dot(pj, v), r3.Dot(pj, u))
	})

	size := box.Size()
	tex := make([]r3.Vec, len(pts))
	for i, p := range pts {
		q := r3.Sub(p, box.Min)
		tex[i] = r3.Vec{X: ratio(q.X, size.X), Y: ratio(q.Y, size.Y), Z: ratio(q.Z, size.Z)}
	}
	return compositor.Polygon{Vertices: pts, TexCoords: tex}, true
}

func pick(dir r3.Vec) r3.Vec {
	if math.Abs(dir.X) < 0.9 {
		return r3.Vec{X: 1}
	}
	return r3.Vec{Y: 1}
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
