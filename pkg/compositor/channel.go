package compositor

import (
	"github.com/gogpu/gputypes"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/models"
)

// BrickSource is the brick catalog of one channel
type BrickSource interface {
	// Bricks returns every brick in arena order
	Bricks() []*models.Brick

	// SortedBricks returns the bricks in view order
	SortedBricks(ray models.Ray, ortho bool, order models.UpdateOrder) []*models.Brick

	// ClosestBricks returns up to k bricks nearest to p, nearest first
	ClosestBricks(p r3.Vec, k int) []*models.Brick

	// QuotaBricks returns the bricks selected for the current interactive frame
	QuotaBricks() []*models.Brick

	// SetQuotaBricks replaces the quota list
	SetQuotaBricks(bs []*models.Brick)

	// ResetDrawn clears every drawn flag
	ResetDrawn()

	Res() models.Dims
	Spacing() r3.Vec
}

// Slot names a vec4 parameter of a volume program
type Slot int

const (
	SlotLight Slot = iota
	SlotShading
	SlotScalar
	SlotGamma
	SlotBrickScale
	SlotSpacing
	SlotColor
	SlotColormap
	SlotClip0
	SlotClip1
	SlotClip2
	SlotClip3
	SlotClip4
	SlotClip5

	NumSlots
)

// MatrixSlot names a matrix parameter of a volume program
type MatrixSlot int

const (
	MatrixProjection MatrixSlot = iota
	MatrixModelView
	MatrixBrick

	NumMatrixSlots
)

// Sampler names a texture input of a volume program
type Sampler int

const (
	SamplerData Sampler = iota
	SamplerMask
	SamplerLabel

	NumSamplers
)

// ProgramDesc selects a program variant from the shader cache
type ProgramDesc struct {
	Mode       models.RenderMode
	Shading    bool
	Mask       bool
	Label      bool
	Colormap   bool
	ClipPlanes bool
	Secondary  bool
}

// Program is a compiled volume program
type Program interface {
	Bind()
	Release()
	SetVec4(slot Slot, v [4]float64)
	SetMatrix(slot MatrixSlot, m mat.Matrix)
	SetSampler(s Sampler, unit int)
}

// ShaderCache builds or returns cached programs
type ShaderCache interface {
	Program(desc ProgramDesc) (Program, error)
}

// Attachment selects a color target of the accumulation framebuffer
type Attachment int

const (
	AttachmentPrimary Attachment = iota
	AttachmentSecondary
)

// Polygon is one slice of a brick, vertices in normalized volume space
type Polygon struct {
	Vertices  []r3.Vec
	TexCoords []r3.Vec
}

// Graphics is the off-screen accumulation target
type Graphics interface {
	Clear(a Attachment)
	SetBlend(a Attachment, s gputypes.BlendState)
	DrawPolygons(p Program, polys []Polygon)
	// Resample filters the primary attachment in place
	Resample(filter gputypes.FilterMode)
	// Composite blends the primary attachment onto the final framebuffer
	Composite(s gputypes.BlendState)
}

// Slicer cuts a brick into view-aligned polygons spaced dt apart
type Slicer interface {
	Slices(b *models.Brick, ray models.Ray, dt float64) []Polygon
}

// ShaderParams are the per-channel appearance settings
type ShaderParams struct {
	Color [3]float64
	Alpha float64

	Shading bool

	Ambient, Diffuse, Specular, Shine float64

	ScalarScale, GMScale float64

	LowThreshold, HighThreshold float64

	Gamma, Offset float64

	// Colormap is 0 for a single color, otherwise a colormap index
	Colormap int

	ColormapLow, ColormapHigh float64

	// ClipPlanes are plane equations in normalized volume space. A zero
	// plane is disabled.
	ClipPlanes [6][4]float64
}

// DefaultParams returns a white, fully opaque channel without shading
func DefaultParams() ShaderParams {
	return ShaderParams{
		Color:         [3]float64{1, 1, 1},
		Alpha:         1,
		Ambient:       1,
		Diffuse:       1,
		ScalarScale:   1,
		GMScale:       1,
		HighThreshold: 1,
		Gamma:         1,
		ColormapHigh:  1,
	}
}

func (p *ShaderParams) hasClipPlanes() bool {
	for _, pl := range p.ClipPlanes {
		if pl != [4]float64{} {
			return true
		}
	}
	return false
}

// Channel is one volume taking part in a composite
type Channel struct {
	Source BrickSource
	Params ShaderParams

	// Quota is the number of bricks this channel contributes to an
	// interactive frame
	Quota int

	// Mask and Label bind the brick's mask and label components when present
	Mask  bool
	Label bool

	// Compression requests compressed textures for this channel
	Compression bool
}

func (ch *Channel) programDesc(mode models.RenderMode, secondary bool) ProgramDesc {
	return ProgramDesc{
		Mode:       mode,
		Shading:    ch.Params.Shading,
		Mask:       ch.Mask,
		Label:      ch.Label,
		Colormap:   ch.Params.Colormap > 0,
		ClipPlanes: ch.Params.hasClipPlanes(),
		Secondary:  secondary,
	}
}
