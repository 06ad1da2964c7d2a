// Package catalog subdivides a volume into bricks and answers the spatial
// queries the compositor needs: view sorting, quota lists and nearest bricks.
package catalog

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/models"
)

// ErrInvalidVolume is returned for volumes with non-positive dimensions
var ErrInvalidVolume = errors.New("catalog: invalid volume")

// Catalog owns the bricks of one volume. Bricks live in an arena indexed by
// BrickRef.Index and are never reallocated.
type Catalog struct {
	id        int
	res       models.Dims
	spacing   r3.Vec
	brickSize int

	bricks []*models.Brick
	quota  []*models.Brick

	sorted    []*models.Brick
	sortRay   models.Ray
	sortOrtho bool
	sortOrder models.UpdateOrder
	sortValid bool

	tree *kdtree.Tree
}

// New subdivides a volume of res voxels into bricks of at most brickSize
// voxels per axis. A brickSize of zero or larger than the volume yields a
// single brick. Boxes are expressed in normalized volume space [0,1]^3.
func New(volumeID int, res models.Dims, brickSize int, spacing r3.Vec) (*Catalog, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("%w: resolution %dx%dx%d", ErrInvalidVolume, res.NX, res.NY, res.NZ)
	}
	if spacing == (r3.Vec{}) {
		spacing = r3.Vec{X: 1, Y: 1, Z: 1}
	}

	c := &Catalog{
		id:        volumeID,
		res:       res,
		spacing:   spacing,
		brickSize: brickSize,
	}
	c.subdivide()
	c.buildTree()
	return c, nil
}

// subdivide splits the volume into a regular grid of bricks, x fastest
func (c *Catalog) subdivide() {
	xs := splits(c.res.NX, c.brickSize)
	ys := splits(c.res.NY, c.brickSize)
	zs := splits(c.res.NZ, c.brickSize)

	for k := 0; k+1 < len(zs); k++ {
		for j := 0; j+1 < len(ys); j++ {
			for i := 0; i+1 < len(xs); i++ {
				b := &models.Brick{
					Ref: models.BrickRef{Volume: c.id, Index: len(c.bricks)},
					Box: r3.Box{
						Min: r3.Vec{
							X: float64(xs[i]) / float64(c.res.NX),
							Y: float64(ys[j]) / float64(c.res.NY),
							Z: float64(zs[k]) / float64(c.res.NZ),
						},
						Max: r3.Vec{
							X: float64(xs[i+1]) / float64(c.res.NX),
							Y: float64(ys[j+1]) / float64(c.res.NY),
							Z: float64(zs[k+1]) / float64(c.res.NZ),
						},
					},
					Dims: models.Dims{NX: xs[i+1] - xs[i], NY: ys[j+1] - ys[j], NZ: zs[k+1] - zs[k]},
				}
				c.bricks = append(c.bricks, b)
			}
		}
	}
}

// splits returns the voxel boundaries along one axis
func splits(n, size int) []int {
	if size <= 0 || size >= n {
		return []int{0, n}
	}
	out := []int{0}
	for x := size; x < n; x += size {
		out = append(out, x)
	}
	return append(out, n)
}

// ID returns the volume identifier
func (c *Catalog) ID() int { return c.id }

// Res returns the volume resolution in voxels
func (c *Catalog) Res() models.Dims { return c.res }

// Spacing returns the physical voxel spacing
func (c *Catalog) Spacing() r3.Vec { return c.spacing }

// BrickSize returns the requested brick edge length
func (c *Catalog) BrickSize() int { return c.brickSize }

// Bricks returns every brick in arena order
func (c *Catalog) Bricks() []*models.Brick { return c.bricks }

// Brick returns the brick at index i
func (c *Catalog) Brick(i int) (*models.Brick, bool) {
	if i < 0 || i >= len(c.bricks) {
		return nil, false
	}
	return c.bricks[i], true
}

// QuotaBricks returns the bricks selected for the current interactive frame
func (c *Catalog) QuotaBricks() []*models.Brick { return c.quota }

// SetQuotaBricks replaces the quota list
func (c *Catalog) SetQuotaBricks(bs []*models.Brick) { c.quota = bs }

// ResetDrawn clears the drawn flags of every brick
func (c *Catalog) ResetDrawn() {
	for _, b := range c.bricks {
		b.ResetDrawn()
	}
}

// DataBytes returns the total size of the data component
func (c *Catalog) DataBytes() int64 {
	var n int64
	for _, b := range c.bricks {
		n += b.Footprint(models.ComponentData)
	}
	return n
}

// InvalidateSort forces the next SortedBricks call to recompute distances
func (c *Catalog) InvalidateSort() { c.sortValid = false }
