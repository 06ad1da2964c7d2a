package catalog

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/logging"
	"brickstream/internal/models"
)

// Volume is a fully loaded voxel grid, x fastest
type Volume struct {
	Res      models.Dims
	Pixel    models.PixelType
	Channels int
	Data     []byte
}

// BytesPerVoxel returns the byte width of one voxel
func (v *Volume) BytesPerVoxel() int {
	ch := v.Channels
	if ch < 1 {
		ch = 1
	}
	return ch * v.Pixel.Size()
}

// Size returns the volume size in bytes
func (v *Volume) Size() int64 {
	return v.Res.Voxels() * int64(v.BytesPerVoxel())
}

// Extract copies each brick's sub-block of vol into the brick as component
// comp. Bricks are split across numCores goroutines.
func (c *Catalog) Extract(vol *Volume, comp models.Component, numCores int) error {
	if vol.Res != c.res {
		return fmt.Errorf("%w: %v volume does not match catalog resolution %v", ErrInvalidVolume, vol.Res, c.res)
	}
	if int64(len(vol.Data)) < vol.Size() {
		return fmt.Errorf("%w: %d bytes for %d expected", ErrInvalidVolume, len(vol.Data), vol.Size())
	}
	if numCores < 1 {
		numCores = 1
	}

	numBricks := len(c.bricks)
	bricksPerCore := (numBricks + numCores - 1) / numCores

	var wg sync.WaitGroup
	for core := 0; core < numCores; core++ {
		wg.Add(1)

		go func(coreID int) {
			defer wg.Done()

			start := coreID * bricksPerCore
			end := min((coreID+1)*bricksPerCore, numBricks)
			for i := start; i < end; i++ {
				b := c.bricks[i]
				b.SetPayload(comp, c.extractBrick(vol, b))
			}
		}(core)
	}
	wg.Wait()

	logging.Logger().Debug("bricks extracted", "volume", c.id, "component", comp, "bricks", numBricks, "cores", numCores)
	return nil
}

func (c *Catalog) extractBrick(vol *Volume, b *models.Brick) *models.Payload {
	bpv := vol.BytesPerVoxel()
	x0 := c.voxelOrigin(b.Box.Min)
	row := b.Dims.NX * bpv

	data := make([]byte, b.Dims.Voxels()*int64(bpv))
	for z := 0; z < b.Dims.NZ; z++ {
		for y := 0; y < b.Dims.NY; y++ {
			src := (((x0.z+z)*vol.Res.NY+(x0.y+y))*vol.Res.NX + x0.x) * bpv
			dst := (z*b.Dims.NY + y) * row
			copy(data[dst:dst+row], vol.Data[src:src+row])
		}
	}

	return &models.Payload{Data: data, Pixel: vol.Pixel, Channels: max(vol.Channels, 1)}
}

type voxel struct{ x, y, z int }

func (c *Catalog) voxelOrigin(p r3.Vec) voxel {
	return voxel{
		x: int(p.X*float64(c.res.NX) + 0.5),
		y: int(p.Y*float64(c.res.NY) + 0.5),
		z: int(p.Z*float64(c.res.NZ) + 0.5),
	}
}

// FromVolume builds a catalog over vol and extracts its data component
func FromVolume(volumeID int, vol *Volume, brickSize int, spacing r3.Vec, numCores int) (*Catalog, error) {
	c, err := New(volumeID, vol.Res, brickSize, spacing)
	if err != nil {
		return nil, err
	}
	if err := c.Extract(vol, models.ComponentData, numCores); err != nil {
		return nil, err
	}
	return c, nil
}
