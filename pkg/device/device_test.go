package device

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/models"
	"brickstream/pkg/compositor"
)

func desc3D(n uint32, f gputypes.TextureFormat) *gputypes.TextureDescriptor {
	return &gputypes.TextureDescriptor{
		Size:      gputypes.NewExtent3D(n, n, n),
		Dimension: gputypes.TextureDimension3D,
		Format:    f,
	}
}

func TestCapacityAccounting(t *testing.T) {
	d := New(Options{Capacity: 1000, ReportMemory: true})

	a, err := d.CreateTexture(desc3D(8, gputypes.TextureFormatR8Unorm))
	require.NoError(t, err)
	free, ok := d.AvailableMemory()
	require.True(t, ok)
	assert.Equal(t, int64(1000-512), free)

	_, err = d.CreateTexture(desc3D(8, gputypes.TextureFormatR8Unorm))
	assert.ErrorIs(t, err, ErrOutOfMemory)

	d.DestroyTexture(a)
	assert.Zero(t, d.Used())
	assert.False(t, d.IsTexture(a))

	// destroying twice is harmless
	d.DestroyTexture(a)
	assert.Equal(t, 1, d.Stats().Destroyed)
}

func TestMemoryQueryUnsupported(t *testing.T) {
	d := New(Options{Capacity: 1000})
	_, ok := d.AvailableMemory()
	assert.False(t, ok)
}

func TestCreateRejectsCompressedWithoutFeature(t *testing.T) {
	d := New(Options{})
	_, err := d.CreateTexture(desc3D(4, gputypes.TextureFormatBC4RUnorm))
	assert.Error(t, err)

	d = New(Options{Features: gputypes.Features(gputypes.FeatureTextureCompressionBC)})
	_, err = d.CreateTexture(desc3D(4, gputypes.TextureFormatBC4RUnorm))
	assert.NoError(t, err)
}

func TestInjectedFailures(t *testing.T) {
	d := New(Options{})
	d.FailNextCreate(1)
	_, err := d.CreateTexture(desc3D(2, gputypes.TextureFormatR8Unorm))
	assert.ErrorIs(t, err, ErrInjected)

	id, err := d.CreateTexture(desc3D(2, gputypes.TextureFormatR8Unorm))
	require.NoError(t, err)

	d.FailNextWrite(1)
	assert.ErrorIs(t, d.WriteTexture(id, make([]byte, 8)), ErrInjected)
	assert.NoError(t, d.WriteTexture(id, make([]byte, 8)))
	assert.ErrorIs(t, d.WriteTexture(99, nil), ErrUnknownTexture)
}

func TestMeanIntensity(t *testing.T) {
	assert.InDelta(t, 0.5, meanIntensity(gputypes.TextureFormatR8Unorm, []byte{0, 255}), 1e-9)
	assert.InDelta(t, 1.0, meanIntensity(gputypes.TextureFormatR16Unorm, []byte{0xff, 0xff}), 1e-9)
	assert.InDelta(t, 0.5, meanIntensity(gputypes.TextureFormatR32Uint, []byte{1, 0, 0, 0, 0, 0, 0, 0}), 1e-9)
	assert.Zero(t, meanIntensity(gputypes.TextureFormatR8Unorm, nil))
}

func fullQuad() compositor.Polygon {
	return compositor.Polygon{Vertices: []r3.Vec{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}}
}

func colorProgram(t *testing.T, d *Device, desc compositor.ProgramDesc, c [4]float64) compositor.Program {
	t.Helper()
	p, err := d.Program(desc)
	require.NoError(t, err)
	p.SetVec4(compositor.SlotColor, c)
	return p
}

func TestOverBlendAccumulates(t *testing.T) {
	d := New(Options{Width: 4, Height: 4})
	d.SetBlend(compositor.AttachmentPrimary, compositor.BlendFor(models.ModeOver, models.FrontToBack))
	p := colorProgram(t, d, compositor.ProgramDesc{Mode: models.ModeOver}, [4]float64{1, 0, 0, 0.5})

	d.DrawPolygons(p, []compositor.Polygon{fullQuad()})
	assert.InDelta(t, 0.5, d.Pixel(compositor.AttachmentPrimary, 1, 1)[0], 1e-9)

	d.DrawPolygons(p, []compositor.Polygon{fullQuad()})
	px := d.Pixel(compositor.AttachmentPrimary, 1, 1)
	assert.InDelta(t, 0.75, px[0], 1e-9)
	assert.InDelta(t, 0.75, px[3], 1e-9)

	d.Clear(compositor.AttachmentPrimary)
	assert.Zero(t, d.Pixel(compositor.AttachmentPrimary, 1, 1)[3])
}

func TestMIPKeepsMaximum(t *testing.T) {
	d := New(Options{Width: 2, Height: 2})
	d.SetBlend(compositor.AttachmentPrimary, compositor.BlendFor(models.ModeMIP, models.FrontToBack))
	bright := colorProgram(t, d, compositor.ProgramDesc{Mode: models.ModeMIP}, [4]float64{1, 1, 1, 0.8})
	d.DrawPolygons(bright, []compositor.Polygon{fullQuad()})
	dim := colorProgram(t, d, compositor.ProgramDesc{Mode: models.ModeMIP, Shading: true}, [4]float64{1, 1, 1, 0.2})
	d.DrawPolygons(dim, []compositor.Polygon{fullQuad()})

	assert.InDelta(t, 0.8, d.Pixel(compositor.AttachmentPrimary, 0, 0)[3], 1e-9)
	assert.Equal(t, 2, d.Programs())
}

func TestSecondaryProgramsDrawToSecondary(t *testing.T) {
	d := New(Options{Width: 2, Height: 2})
	d.SetBlend(compositor.AttachmentSecondary, compositor.SecondaryBlend())
	p := colorProgram(t, d, compositor.ProgramDesc{Secondary: true}, [4]float64{1, 1, 1, 0.25})
	d.DrawPolygons(p, []compositor.Polygon{fullQuad()})
	d.DrawPolygons(p, []compositor.Polygon{fullQuad()})

	assert.InDelta(t, 0.5, d.Pixel(compositor.AttachmentSecondary, 0, 0)[3], 1e-9)
	assert.Zero(t, d.Pixel(compositor.AttachmentPrimary, 0, 0)[3])
}

func TestFragmentUsesBoundTexture(t *testing.T) {
	d := New(Options{Width: 2, Height: 2})
	id, err := d.CreateTexture(desc3D(1, gputypes.TextureFormatR8Unorm))
	require.NoError(t, err)
	require.NoError(t, d.WriteTexture(id, []byte{51}))
	d.BindTexture(3, id, gputypes.FilterModeLinear)
	assert.Equal(t, gputypes.FilterModeLinear, d.Filter(3))

	p := colorProgram(t, d, compositor.ProgramDesc{}, [4]float64{1, 1, 1, 1})
	p.SetSampler(compositor.SamplerData, 3)
	d.DrawPolygons(p, []compositor.Polygon{fullQuad()})

	assert.InDelta(t, 0.2, d.Pixel(compositor.AttachmentPrimary, 0, 0)[3], 1e-9)
}

func TestDrawOnlyCoversPolygonBounds(t *testing.T) {
	d := New(Options{Width: 4, Height: 4})
	p := colorProgram(t, d, compositor.ProgramDesc{}, [4]float64{1, 1, 1, 1})
	half := compositor.Polygon{Vertices: []r3.Vec{{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 0.5, Y: 0.5}}}
	d.DrawPolygons(p, []compositor.Polygon{half})

	assert.Equal(t, 1.0, d.Pixel(compositor.AttachmentPrimary, 1, 1)[3])
	assert.Zero(t, d.Pixel(compositor.AttachmentPrimary, 2, 2)[3])
}

func TestCompositeAndResample(t *testing.T) {
	d := New(Options{Width: 3, Height: 3})
	p := colorProgram(t, d, compositor.ProgramDesc{}, [4]float64{1, 1, 1, 1})
	centre := compositor.Polygon{Vertices: []r3.Vec{{X: 0.34, Y: 0.34}, {X: 0.66, Y: 0.34}, {X: 0.66, Y: 0.66}}}
	d.DrawPolygons(p, []compositor.Polygon{centre})
	require.Equal(t, 1.0, d.Pixel(compositor.AttachmentPrimary, 1, 1)[3])

	d.Resample(gputypes.FilterModeNearest)
	assert.Equal(t, 1.0, d.Pixel(compositor.AttachmentPrimary, 1, 1)[3])

	d.Resample(gputypes.FilterModeLinear)
	assert.InDelta(t, 1.0/9, d.Pixel(compositor.AttachmentPrimary, 1, 1)[3], 1e-9)
	assert.InDelta(t, 1.0/4, d.Pixel(compositor.AttachmentPrimary, 0, 0)[3], 1e-9)

	d.Composite(gputypes.BlendStateReplace())
	assert.InDelta(t, 1.0/9, d.FinalPixel(1, 1)[3], 1e-9)
	assert.Len(t, d.Luminance(), 9)
	assert.Equal(t, 1, d.Stats().Composites)
}

func TestProgramFailure(t *testing.T) {
	d := New(Options{})
	d.FailPrograms(true)
	_, err := d.Program(compositor.ProgramDesc{})
	assert.Error(t, err)
	d.FailPrograms(false)
	_, err = d.Program(compositor.ProgramDesc{})
	assert.NoError(t, err)
}

func TestSlicerCutsAlongRay(t *testing.T) {
	b := &models.Brick{Box: r3.Box{Max: r3.Vec{X: 1, Y: 1, Z: 1}}}
	ray := models.Ray{Dir: r3.Vec{Z: -1}}

	polys := PlaneSlicer{}.Slices(b, ray, 0.25)
	require.Len(t, polys, 4)
	for _, p := range polys {
		assert.Len(t, p.Vertices, 4)
		assert.Len(t, p.TexCoords, 4)
		for _, tc := range p.TexCoords {
			assert.InDelta(t, tc.Z, p.TexCoords[0].Z, 1e-9)
		}
	}

	capped := PlaneSlicer{MaxSlices: 2}.Slices(b, ray, 0.25)
	assert.Len(t, capped, 2)

	assert.Empty(t, PlaneSlicer{}.Slices(b, ray, 0))
	assert.Empty(t, PlaneSlicer{}.Slices(b, models.Ray{}, 0.25))
}

func TestSlicerDiagonalHexagon(t *testing.T) {
	b := &models.Brick{Box: r3.Box{Max: r3.Vec{X: 1, Y: 1, Z: 1}}}
	dir := r3.Unit(r3.Vec{X: 1, Y: 1, Z: 1})
	total := r3.Norm(r3.Vec{X: 1, Y: 1, Z: 1})

	polys := PlaneSlicer{}.Slices(b, models.Ray{Dir: dir}, total/3)
	require.Len(t, polys, 3)
	assert.Len(t, polys[0].Vertices, 3)
	// the plane through the centre of a cube perpendicular to a diagonal is a hexagon
	assert.Len(t, polys[1].Vertices, 6)
	assert.Len(t, polys[2].Vertices, 3)
}
