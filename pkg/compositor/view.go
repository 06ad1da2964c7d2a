package compositor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/models"
)

// ErrSingularView is returned when the model-view matrix cannot be inverted
var ErrSingularView = errors.New("compositor: singular model-view matrix")

// View is the camera state of one frame. Matrices map normalized volume
// space to eye and clip space.
type View struct {
	ModelView  *mat.Dense
	Projection *mat.Dense

	// Snap stabilizes the slicing direction near the volume axes; only
	// values in (0, 0.5) take effect
	Snap float64
}

// ComputeView returns the eye point and viewing direction in volume space
func ComputeView(mv mat.Matrix) (models.Ray, error) {
	var inv mat.Dense
	if err := inv.Inverse(mv); err != nil {
		return models.Ray{}, fmt.Errorf("%w: %v", ErrSingularView, err)
	}

	eye := mulVec4(&inv, [4]float64{0, 0, 0, 1})
	dir := mulVec4(&inv, [4]float64{0, 0, -1, 0})

	origin := r3.Vec{X: eye[0], Y: eye[1], Z: eye[2]}
	if eye[3] != 0 && eye[3] != 1 {
		origin = r3.Scale(1/eye[3], origin)
	}
	return models.Ray{
		Origin: origin,
		Dir:    safeUnit(r3.Vec{X: dir[0], Y: dir[1], Z: dir[2]}),
	}, nil
}

// SnapRay pulls small direction components to zero so that slices stay
// axis-aligned while the camera jitters around an axis
func SnapRay(ray models.Ray, snap float64) models.Ray {
	if snap <= 0 || snap >= 0.5 {
		return ray
	}
	snapped := r3.Vec{
		X: snapComponent(ray.Dir.X, snap),
		Y: snapComponent(ray.Dir.Y, snap),
		Z: snapComponent(ray.Dir.Z, snap),
	}
	if snapped == (r3.Vec{}) {
		return ray
	}
	return models.Ray{Origin: ray.Origin, Dir: safeUnit(snapped)}
}

func snapComponent(v, snap float64) float64 {
	a := math.Abs(v)
	switch {
	case a < snap-0.1:
		return 0
	case a < snap:
		return (a - snap + 0.1) * snap * 10 * math.Copysign(1, v)
	}
	return v
}

// RateScale corrects the sampling step for anisotropic bricks. res is the
// volume resolution and spacing the physical voxel size.
func RateScale(v r3.Vec, res models.Dims, spacing r3.Vec) float64 {
	zf := spacing.Z / math.Max(spacing.X, spacing.Y)
	nz := 1.0
	if zf > 1 && zf < 100 {
		nz = math.Sqrt(zf)
	}
	n := r3.Vec{
		X: float64(res.NX) / float64(res.NZ),
		Y: float64(res.NY) / float64(res.NZ),
		Z: nz,
	}

	const e = 1e-4
	ax, ay, az := math.Abs(v.X) >= e, math.Abs(v.Y) >= e, math.Abs(v.Z) >= e
	l2 := r3.Norm2(v)

	switch {
	case ax && ay && az:
		a, b, c := l2/v.X, l2/v.Y, l2/v.Z
		return n.X * n.Y * n.Z * math.Sqrt(a*a*b*b+b*b*c*c+c*c*a*a) /
			math.Sqrt(n.X*n.X*a*a*n.Y*n.Y*b*b+n.X*n.X*a*a*n.Z*n.Z*c*c+n.Y*n.Y*b*b*n.Z*n.Z*c*c)
	case !ax && ay && az:
		b, c := l2/v.Y, l2/v.Z
		return n.Y * n.Z * math.Sqrt(b*b+c*c) / math.Sqrt(n.Y*n.Y*b*b+n.Z*n.Z*c*c)
	case ax && !ay && az:
		a, c := l2/v.X, l2/v.Z
		return n.X * n.Z * math.Sqrt(a*a+c*c) / math.Sqrt(n.X*n.X*a*a+n.Z*n.Z*c*c)
	case ax && ay && !az:
		a, b := l2/v.X, l2/v.Y
		return n.X * n.Y * math.Sqrt(a*a+b*b) / math.Sqrt(n.X*n.X*a*a+n.Y*n.Y*b*b)
	case ax:
		return n.X
	case ay:
		return n.Y
	case az:
		return n.Z
	}
	return 1
}

// InView reports whether a box may be visible. A box is rejected only when
// all of its corners lie beyond the same clip plane. In perspective views a
// box containing the eye is always visible.
func InView(box r3.Box, view View, eye r3.Vec, perspective bool) bool {
	if view.ModelView == nil || view.Projection == nil {
		return true
	}
	if perspective && box.Contains(eye) {
		return true
	}

	var mvp mat.Dense
	mvp.Mul(view.Projection, view.ModelView)

	var over, under [3]bool
	for i := range over {
		over[i], under[i] = true, true
	}
	for _, c := range box.Vertices() {
		p := mulVec4(&mvp, [4]float64{c.X, c.Y, c.Z, 1})
		if p[3] != 0 {
			p[0], p[1], p[2] = p[0]/p[3], p[1]/p[3], p[2]/p[3]
		}
		for axis := 0; axis < 3; axis++ {
			over[axis] = over[axis] && p[axis] > 1
			under[axis] = under[axis] && p[axis] < -1
		}
	}
	for axis := 0; axis < 3; axis++ {
		if over[axis] || under[axis] {
			return false
		}
	}
	return true
}

// brickMatrix maps a brick's box onto the unit texture cube
func brickMatrix(box r3.Box) *mat.Dense {
	size := box.Size()
	sx, sy, sz := inv(size.X), inv(size.Y), inv(size.Z)
	return mat.NewDense(4, 4, []float64{
		sx, 0, 0, -box.Min.X * sx,
		0, sy, 0, -box.Min.Y * sy,
		0, 0, sz, -box.Min.Z * sz,
		0, 0, 0, 1,
	})
}

func inv(v float64) float64 {
	if v == 0 {
		return 0
	}
	return 1 / v
}

func mulVec4(m mat.Matrix, v [4]float64) [4]float64 {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(4, v[:]))
	return [4]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2), out.AtVec(3)}
}

func safeUnit(v r3.Vec) r3.Vec {
	if r3.Norm2(v) == 0 {
		return v
	}
	return r3.Unit(v)
}
