package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/models"
)

func rampVolume(res models.Dims) *Volume {
	vol := &Volume{Res: res, Pixel: models.PixelUint8, Channels: 1}
	vol.Data = make([]byte, res.Voxels())
	for i := range vol.Data {
		vol.Data[i] = byte(i % 251)
	}
	return vol
}

func TestSubdivide(t *testing.T) {
	c, err := New(3, models.Dims{NX: 10, NY: 8, NZ: 4}, 4, r3.Vec{})
	require.NoError(t, err)

	// 3 x 2 x 1 bricks, the last column 2 voxels wide
	require.Len(t, c.Bricks(), 6)
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 1}, c.Spacing())

	last := c.Bricks()[2]
	assert.Equal(t, models.Dims{NX: 2, NY: 4, NZ: 4}, last.Dims)
	assert.InDelta(t, 0.8, last.Box.Min.X, 1e-12)
	assert.InDelta(t, 1.0, last.Box.Max.X, 1e-12)

	var voxels int64
	for i, b := range c.Bricks() {
		assert.Equal(t, models.BrickRef{Volume: 3, Index: i}, b.Ref)
		voxels += b.Dims.Voxels()
	}
	assert.Equal(t, int64(320), voxels)
}

func TestSingleBrick(t *testing.T) {
	c, err := New(0, models.Dims{NX: 5, NY: 5, NZ: 5}, 0, r3.Vec{})
	require.NoError(t, err)
	require.Len(t, c.Bricks(), 1)
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 1}, c.Bricks()[0].Box.Max)
}

func TestNewRejectsEmptyVolume(t *testing.T) {
	_, err := New(0, models.Dims{NX: 0, NY: 4, NZ: 4}, 2, r3.Vec{})
	assert.ErrorIs(t, err, ErrInvalidVolume)
}

func TestExtractCopiesSubBlocks(t *testing.T) {
	res := models.Dims{NX: 8, NY: 6, NZ: 4}
	vol := rampVolume(res)

	c, err := FromVolume(1, vol, 3, r3.Vec{}, 4)
	require.NoError(t, err)

	for _, b := range c.Bricks() {
		p := b.Payload(models.ComponentData)
		require.NotNil(t, p)
		require.Len(t, p.Data, int(b.Dims.Voxels()))

		o := c.voxelOrigin(b.Box.Min)
		for z := 0; z < b.Dims.NZ; z++ {
			for y := 0; y < b.Dims.NY; y++ {
				for x := 0; x < b.Dims.NX; x++ {
					want := vol.Data[((o.z+z)*res.NY+(o.y+y))*res.NX+o.x+x]
					got := p.Data[(z*b.Dims.NY+y)*b.Dims.NX+x]
					if want != got {
						t.Fatalf("brick %d voxel (%d,%d,%d): got %d want %d", b.Ref.Index, x, y, z, got, want)
					}
				}
			}
		}
	}
	assert.Equal(t, vol.Size(), c.DataBytes())
}

func TestExtractRejectsMismatch(t *testing.T) {
	c, err := New(0, models.Dims{NX: 4, NY: 4, NZ: 4}, 2, r3.Vec{})
	require.NoError(t, err)

	err = c.Extract(rampVolume(models.Dims{NX: 4, NY: 4, NZ: 2}), models.ComponentData, 2)
	assert.ErrorIs(t, err, ErrInvalidVolume)

	short := rampVolume(models.Dims{NX: 4, NY: 4, NZ: 4})
	short.Data = short.Data[:10]
	assert.ErrorIs(t, c.Extract(short, models.ComponentData, 2), ErrInvalidVolume)
}

func TestSortedBricks(t *testing.T) {
	c, err := New(0, models.Dims{NX: 4, NY: 4, NZ: 8}, 4, r3.Vec{})
	require.NoError(t, err)
	require.Len(t, c.Bricks(), 2)

	ray := models.Ray{Origin: r3.Vec{X: 0.5, Y: 0.5, Z: -5}, Dir: r3.Vec{Z: 1}}
	front := c.SortedBricks(ray, true, models.FrontToBack)
	assert.Equal(t, 0, front[0].Ref.Index)
	assert.LessOrEqual(t, front[0].Dist, front[1].Dist)

	again := c.SortedBricks(ray, true, models.FrontToBack)
	assert.Same(t, &front[0], &again[0], "cached for an unchanged view")

	back := c.SortedBricks(ray, true, models.BackToFront)
	assert.Equal(t, 1, back[0].Ref.Index)

	persp := c.SortedBricks(models.Ray{Origin: r3.Vec{X: 0.5, Y: 0.5, Z: 5}, Dir: r3.Vec{Z: -1}}, false, models.FrontToBack)
	assert.Equal(t, 1, persp[0].Ref.Index)
}

func TestClosestBricks(t *testing.T) {
	c, err := New(0, models.Dims{NX: 8, NY: 8, NZ: 8}, 2, r3.Vec{})
	require.NoError(t, err)
	require.Len(t, c.Bricks(), 64)

	all := c.ClosestBricks(r3.Vec{}, 1000)
	require.Len(t, all, 64)
	assert.Equal(t, 0, all[0].Ref.Index)
	for i := 1; i < len(all); i++ {
		prev := r3.Norm(all[i-1].Box.Center())
		cur := r3.Norm(all[i].Box.Center())
		assert.LessOrEqual(t, prev, cur+1e-12)
	}

	few := c.ClosestBricks(r3.Vec{X: 1, Y: 1, Z: 1}, 3)
	require.Len(t, few, 3)
	assert.Equal(t, 63, few[0].Ref.Index)

	assert.Nil(t, c.ClosestBricks(r3.Vec{}, 0))
}

func TestBrickAt(t *testing.T) {
	c, err := New(0, models.Dims{NX: 8, NY: 8, NZ: 8}, 4, r3.Vec{})
	require.NoError(t, err)

	b, ok := c.BrickAt(r3.Vec{X: 0.9, Y: 0.1, Z: 0.1})
	require.True(t, ok)
	assert.Equal(t, 1, b.Ref.Index)

	_, ok = c.BrickAt(r3.Vec{X: 2, Y: 2, Z: 2})
	assert.False(t, ok)
}

func TestQuotaAndReset(t *testing.T) {
	c, err := New(0, models.Dims{NX: 4, NY: 4, NZ: 4}, 2, r3.Vec{})
	require.NoError(t, err)

	c.SetQuotaBricks(c.Bricks()[:2])
	assert.Len(t, c.QuotaBricks(), 2)

	c.Bricks()[0].SetDrawn(models.PassVolume, true)
	c.ResetDrawn()
	assert.False(t, c.Bricks()[0].Drawn(models.PassVolume))

	b, ok := c.Brick(7)
	require.True(t, ok)
	assert.Equal(t, 7, b.Ref.Index)
	_, ok = c.Brick(8)
	assert.False(t, ok)
}
