package compositor

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/models"
)

func identity() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func TestComputeView(t *testing.T) {
	ray, err := ComputeView(identity())
	require.NoError(t, err)
	assert.InDelta(t, 0, r3.Norm(ray.Origin), 1e-12)
	assert.InDelta(t, -1, ray.Dir.Z, 1e-12)

	mv := identity()
	mv.Set(2, 3, -5)
	ray, err = ComputeView(mv)
	require.NoError(t, err)
	assert.InDelta(t, 5, ray.Origin.Z, 1e-12)
	assert.InDelta(t, 1, r3.Norm(ray.Dir), 1e-12)

	_, err = ComputeView(mat.NewDense(4, 4, nil))
	assert.ErrorIs(t, err, ErrSingularView)
}

func TestSnapRay(t *testing.T) {
	ray := models.Ray{Dir: r3.Unit(r3.Vec{X: 0.1, Z: -1})}

	snapped := SnapRay(ray, 0.3)
	assert.Zero(t, snapped.Dir.X)
	assert.InDelta(t, -1, snapped.Dir.Z, 1e-12)

	assert.Equal(t, ray, SnapRay(ray, 0))
	assert.Equal(t, ray, SnapRay(ray, 0.5))

	// between snap-0.1 and snap the component is ramped down
	assert.InDelta(t, 0.15, snapComponent(0.25, 0.3), 1e-12)
	assert.InDelta(t, -0.15, snapComponent(-0.25, 0.3), 1e-12)
	assert.Equal(t, 0.4, snapComponent(0.4, 0.3))
}

func TestRateScale(t *testing.T) {
	cube := models.Dims{NX: 64, NY: 64, NZ: 64}
	unit := r3.Vec{X: 1, Y: 1, Z: 1}

	assert.InDelta(t, 1, RateScale(r3.Vec{Z: -1}, cube, unit), 1e-12)
	assert.InDelta(t, 2, RateScale(r3.Vec{X: 1}, models.Dims{NX: 128, NY: 64, NZ: 64}, unit), 1e-12)
	assert.InDelta(t, 1, RateScale(r3.Unit(r3.Vec{X: 1, Y: 1, Z: 1}), cube, unit), 1e-12)

	// thick slices along z
	assert.InDelta(t, 2, RateScale(r3.Vec{Z: 1}, cube, r3.Vec{X: 1, Y: 1, Z: 4}), 1e-12)
	assert.Equal(t, 1.0, RateScale(r3.Vec{}, cube, unit))
}

func TestInView(t *testing.T) {
	inside := r3.Box{Max: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}}
	outside := r3.Box{Min: r3.Vec{X: 2, Y: 0, Z: 0}, Max: r3.Vec{X: 3, Y: 0.5, Z: 0.5}}

	assert.True(t, InView(outside, View{}, r3.Vec{}, true), "no projection culls nothing")

	view := View{ModelView: identity(), Projection: identity()}
	assert.True(t, InView(inside, view, r3.Vec{Z: 10}, false))
	assert.False(t, InView(outside, view, r3.Vec{Z: 10}, false))

	// the eye sits inside the box
	assert.True(t, InView(outside, view, r3.Vec{X: 2.5, Y: 0.25, Z: 0.25}, true))
	assert.False(t, InView(outside, view, r3.Vec{X: 2.5, Y: 0.25, Z: 0.25}, false))

	straddling := r3.Box{Min: r3.Vec{X: 0.5}, Max: r3.Vec{X: 1.5, Y: 0.5, Z: 0.5}}
	assert.True(t, InView(straddling, view, r3.Vec{Z: 10}, false))
}

func TestBrickMatrix(t *testing.T) {
	box := r3.Box{Min: r3.Vec{X: 0.5, Y: 0, Z: 0.25}, Max: r3.Vec{X: 1, Y: 0.5, Z: 0.5}}
	m := brickMatrix(box)

	lo := mulVec4(m, [4]float64{0.5, 0, 0.25, 1})
	hi := mulVec4(m, [4]float64{1, 0.5, 0.5, 1})
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0, lo[i], 1e-12)
		assert.InDelta(t, 1, hi[i], 1e-12)
	}
}

func TestBlendFor(t *testing.T) {
	tests := []struct {
		name  string
		mode  models.RenderMode
		order models.UpdateOrder
		src   gputypes.BlendFactor
		dst   gputypes.BlendFactor
		op    gputypes.BlendOperation
	}{
		{"over front to back", models.ModeOver, models.FrontToBack, gputypes.BlendFactorOne, gputypes.BlendFactorOneMinusSrcAlpha, gputypes.BlendOperationAdd},
		{"over back to front", models.ModeOver, models.BackToFront, gputypes.BlendFactorOneMinusDstAlpha, gputypes.BlendFactorOne, gputypes.BlendOperationAdd},
		{"mip", models.ModeMIP, models.FrontToBack, gputypes.BlendFactorOne, gputypes.BlendFactorOne, gputypes.BlendOperationMax},
		{"slice", models.ModeSlice, models.FrontToBack, gputypes.BlendFactorOne, gputypes.BlendFactorZero, gputypes.BlendOperationAdd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := BlendFor(tt.mode, tt.order)
			assert.Equal(t, tt.src, s.Color.SrcFactor)
			assert.Equal(t, tt.dst, s.Color.DstFactor)
			assert.Equal(t, tt.op, s.Color.Operation)
			assert.Equal(t, s.Color, s.Alpha)
		})
	}

	sec := SecondaryBlend()
	assert.Equal(t, gputypes.BlendOperationAdd, sec.Color.Operation)
	assert.Equal(t, gputypes.BlendFactorOne, sec.Color.DstFactor)
}

func TestProgramDesc(t *testing.T) {
	ch := &Channel{Params: DefaultParams(), Mask: true}
	d := ch.programDesc(models.ModeMIP, false)
	assert.Equal(t, ProgramDesc{Mode: models.ModeMIP, Mask: true}, d)

	ch.Params.ClipPlanes[2] = [4]float64{1, 0, 0, -0.5}
	ch.Params.Colormap = 3
	d = ch.programDesc(models.ModeOver, true)
	assert.True(t, d.ClipPlanes)
	assert.True(t, d.Colormap)
	assert.True(t, d.Secondary)
}
