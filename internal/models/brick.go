package models

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// BrickRef identifies a brick by the volume that owns it and its index in
// that volume's brick list. Refs stay valid for the lifetime of the catalog.
type BrickRef struct {
	// Volume is the identifier of the owning volume
	Volume int

	// Index is the position of the brick in the owning catalog
	Index int
}

// Dims holds the voxel dimensions of a brick
type Dims struct {
	NX, NY, NZ int
}

// Voxels returns the number of voxels covered by the dimensions
func (d Dims) Voxels() int64 {
	return int64(d.NX) * int64(d.NY) * int64(d.NZ)
}

// Valid reports whether every dimension is positive
func (d Dims) Valid() bool {
	return d.NX > 0 && d.NY > 0 && d.NZ > 0
}

// PixelType is the scalar type of one channel of a voxel
type PixelType int

const (
	PixelUint8 PixelType = iota
	PixelUint16
	PixelUint32
)

// Size returns the byte width of the pixel type
func (p PixelType) Size() int {
	switch p {
	case PixelUint16:
		return 2
	case PixelUint32:
		return 4
	default:
		return 1
	}
}

func (p PixelType) String() string {
	switch p {
	case PixelUint8:
		return "uint8"
	case PixelUint16:
		return "uint16"
	case PixelUint32:
		return "uint32"
	}
	return "unknown"
}

// Component selects which texture of a brick is addressed
type Component int

const (
	ComponentData Component = iota
	ComponentMask
	ComponentLabel

	NumComponents
)

func (c Component) String() string {
	switch c {
	case ComponentData:
		return "data"
	case ComponentMask:
		return "mask"
	case ComponentLabel:
		return "label"
	}
	return "unknown"
}

// Pass selects one set of drawn flags. Each render pass that streams bricks
// keeps its own progress.
type Pass int

const (
	PassVolume Pass = iota
	PassOverlay
	PassShadow

	NumPasses
)

// RenderMode selects how channels are blended into the accumulation target
type RenderMode int

const (
	ModeNone RenderMode = iota
	// ModeOver composites with the "over" operator (standard and overlay)
	ModeOver
	// ModeMIP keeps the maximum intensity
	ModeMIP
	// ModeSlice draws a single resampled slice
	ModeSlice
)

func (m RenderMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeOver:
		return "over"
	case ModeMIP:
		return "mip"
	case ModeSlice:
		return "slice"
	}
	return "unknown"
}

// UpdateOrder is the depth order in which bricks are drawn
type UpdateOrder int

const (
	FrontToBack UpdateOrder = iota
	BackToFront
)

func (o UpdateOrder) String() string {
	if o == BackToFront {
		return "back-to-front"
	}
	return "front-to-back"
}

// Ray is a view ray in normalized volume space
type Ray struct {
	Origin r3.Vec
	Dir    r3.Vec
}

// ViewDistance returns the smallest distance from the viewer to the corners of
// a box shrunk by a thousandth of its size. Orthographic views measure along
// the ray direction, perspective views from the eye point.
func ViewDistance(box r3.Box, ray Ray, ortho bool) float64 {
	inset := r3.Scale(1.0/1000, box.Size())
	shrunk := r3.Box{Min: r3.Add(box.Min, inset), Max: r3.Sub(box.Max, inset)}

	d := math.Inf(1)
	for _, corner := range shrunk.Vertices() {
		var dd float64
		if ortho {
			dd = r3.Dot(corner, ray.Dir)
		} else {
			dd = r3.Norm(r3.Sub(corner, ray.Origin))
		}
		d = math.Min(d, dd)
	}
	return d
}

// Payload is the voxel data of one brick component
type Payload struct {
	// Data holds the raw voxels, x fastest
	Data []byte

	// Pixel is the scalar type of each channel
	Pixel PixelType

	// Channels is the number of scalars per voxel (1 or 4)
	Channels int
}

// BytesPerVoxel returns the byte width of one voxel
func (p *Payload) BytesPerVoxel() int {
	ch := p.Channels
	if ch < 1 {
		ch = 1
	}
	return ch * p.Pixel.Size()
}

// Brick is an axis-aligned sub-block of a volume, the unit of upload and draw
type Brick struct {
	// Ref is the stable handle of the brick
	Ref BrickRef

	// Box is the bounding box in normalized volume space
	Box r3.Box

	// Dims is the voxel size of the brick including borders
	Dims Dims

	// Priority is 0 when the brick is eligible to be drawn
	Priority int

	// Dist is the view distance computed by the last sort
	Dist float64

	// Order is the slot assigned to the brick when channel schedules are merged
	Order int

	payloads [NumComponents]*Payload
	drawn    [NumPasses]bool
}

// SetPayload attaches voxel data for a component
func (b *Brick) SetPayload(c Component, p *Payload) {
	b.payloads[c] = p
}

// Payload returns the voxel data of a component, or nil
func (b *Brick) Payload(c Component) *Payload {
	if c < 0 || c >= NumComponents {
		return nil
	}
	return b.payloads[c]
}

// BytesPerVoxel returns the voxel width of a component, 0 when absent
func (b *Brick) BytesPerVoxel(c Component) int {
	p := b.Payload(c)
	if p == nil {
		return 0
	}
	return p.BytesPerVoxel()
}

// Footprint returns the texture size in bytes of a component
func (b *Brick) Footprint(c Component) int64 {
	return b.Dims.Voxels() * int64(b.BytesPerVoxel(c))
}

// Drawn reports whether the brick was drawn in the current streaming pass
func (b *Brick) Drawn(p Pass) bool {
	return b.drawn[p]
}

// SetDrawn sets the drawn flag for a pass
func (b *Brick) SetDrawn(p Pass, v bool) {
	b.drawn[p] = v
}

// ResetDrawn clears the drawn flags of every pass
func (b *Brick) ResetDrawn() {
	b.drawn = [NumPasses]bool{}
}
