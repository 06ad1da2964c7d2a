package catalog

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/models"
)

// SortedBricks returns the bricks ordered by view distance, nearest first for
// FrontToBack and farthest first for BackToFront. The result is cached until
// the ray, projection or order changes.
func (c *Catalog) SortedBricks(ray models.Ray, ortho bool, order models.UpdateOrder) []*models.Brick {
	if c.sortValid && c.sortRay == ray && c.sortOrtho == ortho && c.sortOrder == order {
		return c.sorted
	}

	for _, b := range c.bricks {
		b.Dist = models.ViewDistance(b.Box, ray, ortho)
	}
	sorted := make([]*models.Brick, len(c.bricks))
	copy(sorted, c.bricks)
	SortByDistance(sorted, order)

	c.sorted = sorted
	c.sortRay = ray
	c.sortOrtho = ortho
	c.sortOrder = order
	c.sortValid = true
	return sorted
}

// SortByDistance orders bricks by their Dist field. Ties keep arena order.
func SortByDistance(bs []*models.Brick, order models.UpdateOrder) {
	sort.SliceStable(bs, func(i, j int) bool {
		if order == models.BackToFront {
			return bs[i].Dist > bs[j].Dist
		}
		return bs[i].Dist < bs[j].Dist
	})
}

// brickCenter is a brick centre stored in the kd-tree
type brickCenter struct {
	r3.Vec
	index int
}

// Compare implements the kdtree.Comparable interface
func (p brickCenter) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(brickCenter)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the kd-tree
func (p brickCenter) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two centres
func (p brickCenter) Distance(c kdtree.Comparable) float64 {
	q := c.(brickCenter)
	return r3.Norm2(r3.Sub(p.Vec, q.Vec))
}

// brickCenters satisfies kdtree.Interface
type brickCenters []brickCenter

func (p brickCenters) Index(i int) kdtree.Comparable         { return p[i] }
func (p brickCenters) Len() int                              { return len(p) }
func (p brickCenters) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p brickCenters) Pivot(d kdtree.Dim) int {
	plane := centerPlane{brickCenters: p, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfRandoms(plane, 100))
}

// centerPlane implements sort.Interface and kdtree.SortSlicer
type centerPlane struct {
	brickCenters
	kdtree.Dim
}

func (p centerPlane) Less(i, j int) bool {
	return p.brickCenters[i].Compare(p.brickCenters[j], p.Dim) < 0
}

func (p centerPlane) Slice(start, end int) kdtree.SortSlicer {
	return centerPlane{brickCenters: p.brickCenters[start:end], Dim: p.Dim}
}

func (p centerPlane) Swap(i, j int) {
	p.brickCenters[i], p.brickCenters[j] = p.brickCenters[j], p.brickCenters[i]
}

func (c *Catalog) buildTree() {
	points := make(brickCenters, len(c.bricks))
	for i, b := range c.bricks {
		points[i] = brickCenter{Vec: b.Box.Center(), index: i}
	}
	c.tree = kdtree.New(points, false)
}

// ClosestBricks returns up to k bricks whose centres are nearest to p,
// nearest first. Equal distances keep arena order.
func (c *Catalog) ClosestBricks(p r3.Vec, k int) []*models.Brick {
	if k <= 0 || len(c.bricks) == 0 {
		return nil
	}
	k = min(k, len(c.bricks))

	keeper := kdtree.NewNKeeper(k)
	c.tree.NearestSet(keeper, brickCenter{Vec: p, index: -1})

	found := make([]kdtree.ComparableDist, 0, k)
	for _, item := range keeper.Heap {
		// Skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		found = append(found, item)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Dist != found[j].Dist {
			return found[i].Dist < found[j].Dist
		}
		return found[i].Comparable.(brickCenter).index < found[j].Comparable.(brickCenter).index
	})

	out := make([]*models.Brick, len(found))
	for i, item := range found {
		out[i] = c.bricks[item.Comparable.(brickCenter).index]
	}
	return out
}

// BrickAt returns the brick containing p in normalized volume space
func (c *Catalog) BrickAt(p r3.Vec) (*models.Brick, bool) {
	for _, b := range c.ClosestBricks(p, 8) {
		if b.Box.Contains(p) {
			return b, true
		}
	}
	return nil, false
}
