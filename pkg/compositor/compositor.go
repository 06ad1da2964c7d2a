// Package compositor draws several channel volumes as one composite, brick
// by brick, within the scheduler's per-frame time budget.
package compositor

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/logging"
	"brickstream/internal/models"
	"brickstream/pkg/scheduler"
	"brickstream/pkg/texpool"
)

var (
	// ErrNoChannels is returned when Draw is called without channels
	ErrNoChannels = errors.New("compositor: no channels")

	// ErrTopologyMismatch is returned when channels do not share the
	// reference channel's brick layout
	ErrTopologyMismatch = errors.New("compositor: channel brick topology differs from reference")
)

// unitsPerChannel is the number of texture units reserved per channel
const unitsPerChannel = int(NumSamplers)

// DrawOptions are the per-frame switches supplied by the host view
type DrawOptions struct {
	Mode         models.RenderMode
	Interactive  bool
	Orthographic bool
	Interpolate  bool

	SampleRate      float64
	InteractiveRate float64

	NoiseReduction bool

	// Secondary enables the additive shading/depth attachment
	Secondary bool

	Pass models.Pass
}

// Result summarizes one Draw call
type Result struct {
	Drawn     int
	Skipped   int
	Culled    int
	Failed    int
	Slices    int
	Truncated bool

	// Step is the sampling distance between slices
	Step float64

	// SliceEstimate is the number of slices across the whole volume
	SliceEstimate int

	Done        bool
	ChannelDone bool
}

// Options configures a compositor
type Options struct {
	Order models.UpdateOrder
}

// Compositor owns the per-frame draw of a set of channels
type Compositor struct {
	pool    *texpool.Pool
	sched   *scheduler.Context
	shaders ShaderCache
	gfx     Graphics
	slicer  Slicer
	order   models.UpdateOrder

	numSlices int
}

// New creates a compositor. The pool reports drawn bricks to sched.
func New(pool *texpool.Pool, sched *scheduler.Context, shaders ShaderCache, gfx Graphics, slicer Slicer, opts Options) *Compositor {
	pool.SetTracker(sched)
	return &Compositor{
		pool:    pool,
		sched:   sched,
		shaders: shaders,
		gfx:     gfx,
		slicer:  slicer,
		order:   opts.Order,
	}
}

// SetUpdateOrder changes the traversal order
func (c *Compositor) SetUpdateOrder(o models.UpdateOrder) { c.order = o }

// NumSlices returns the slice polygons drawn by the last Draw
func (c *Compositor) NumSlices() int { return c.numSlices }

// StartLoad clears the drawn flags of every channel and, when streaming,
// starts a pass over all their bricks
func (c *Compositor) StartLoad(channels []*Channel, streaming bool) {
	total := 0
	for _, ch := range channels {
		ch.Source.ResetDrawn()
		total += len(ch.Source.Bricks())
	}
	if streaming && c.sched.MemSwap() {
		c.sched.BeginLoad(total)
		return
	}
	c.sched.Halt()
}

// Draw renders one frame of the composite. Bricks are visited in a single
// merged order; for each brick every channel's peer is bound and drawn
// slice by slice before moving on. While streaming, the loop stops once the
// frame budget is spent and resumes with the first undrawn brick next frame.
func (c *Compositor) Draw(channels []*Channel, view View, opts DrawOptions) (Result, error) {
	var res Result
	if len(channels) == 0 {
		return res, ErrNoChannels
	}
	ref := channels[0].Source
	total := len(ref.Bricks())
	for i, ch := range channels[1:] {
		if n := len(ch.Source.Bricks()); n != total {
			return res, fmt.Errorf("%w: channel %d has %d bricks, reference has %d", ErrTopologyMismatch, i+1, n, total)
		}
	}

	ray, err := ComputeView(view.ModelView)
	if err != nil {
		return res, err
	}
	snapped := SnapRay(ray, view.Snap)

	rate := opts.SampleRate
	if opts.Interactive {
		rate = opts.InteractiveRate
	}
	if rate <= 0 {
		rate = 1
	}
	dims := ref.Res()
	cell := r3.Vec{X: 1 / float64(dims.NX), Y: 1 / float64(dims.NY), Z: 1 / float64(dims.NZ)}
	res.Step = r3.Norm(cell) / RateScale(snapped.Dir, dims, ref.Spacing()) / rate
	if res.Step > 0 {
		res.SliceEstimate = int(r3.Norm(r3.Vec{X: 1, Y: 1, Z: 1}) / res.Step)
	}

	programs := make([]Program, len(channels))
	for i, ch := range channels {
		p, err := c.shaders.Program(ch.programDesc(opts.Mode, opts.Secondary))
		if err != nil {
			return res, fmt.Errorf("compositor: program for channel %d: %w", i, err)
		}
		programs[i] = p
	}

	c.sched.BeginFrame()
	defer c.sched.EndFrame()

	if c.sched.MemSwap() && c.sched.State() == scheduler.Done {
		res.Done = true
		c.gfx.Composite(BlendFor(models.ModeOver, c.order))
		return res, nil
	}

	lists := c.brickLists(channels, ray, opts, &res)

	c.gfx.SetBlend(AttachmentPrimary, BlendFor(opts.Mode, c.order))
	streaming := c.sched.Streaming()
	if !streaming || c.sched.ClearChannelBuffer() {
		c.gfx.Clear(AttachmentPrimary)
		c.sched.ResetClearChannelBuffer()
	}
	if opts.Secondary {
		c.gfx.SetBlend(AttachmentSecondary, SecondaryBlend())
		if !c.sched.MidStream() {
			c.gfx.Clear(AttachmentSecondary)
		}
	}

	filter := gputypes.FilterModeNearest
	if opts.Interpolate {
		filter = gputypes.FilterModeLinear
	}
	eye := ray.Origin
	perspective := !opts.Orthographic

	drawn := 0
	cursor := 0
	peers := make([]*models.Brick, len(channels))
	for k, b := range lists[0] {
		cursor = k
		if streaming && !c.sched.AllowNext(drawn) {
			res.Truncated = true
			break
		}
		cursor = k + 1

		for i := range channels {
			peers[i] = lists[i][k]
		}
		if allDrawn(peers, opts.Pass) {
			continue
		}

		if !InView(b.Box, view, eye, perspective) {
			for _, p := range peers {
				c.sched.MarkDrawn(p, opts.Pass)
			}
			res.Culled++
			continue
		}

		polys := c.slicer.Slices(b, snapped, res.Step)
		if len(polys) == 0 {
			for _, p := range peers {
				c.sched.MarkDrawn(p, opts.Pass)
			}
			res.Culled++
			continue
		}

		bound := c.bindChannels(channels, peers, filter, opts.Pass, &res)
		if len(bound) == 0 {
			continue
		}

		for _, poly := range polys {
			for _, i := range bound {
				prog := programs[i]
				prog.Bind()
				c.setParams(prog, channels[i], peers[i], view, i)
				c.gfx.DrawPolygons(prog, []Polygon{poly})
				prog.Release()
			}
		}
		res.Slices += len(polys)

		for _, i := range bound {
			for s := 0; s < unitsPerChannel; s++ {
				c.pool.Release(i*unitsPerChannel + s)
			}
		}
		c.sched.NoteBrickDrawn()
		res.Drawn++
		drawn++
	}
	c.numSlices = res.Slices

	if streaming {
		c.sched.SetCursor(cursor)
		res.Done = c.sched.CheckDone()
		count := 0
		for _, l := range lists {
			count += len(l)
		}
		res.ChannelDone = c.sched.FinishChannel(count)
	}

	if opts.NoiseReduction && opts.Mode != models.ModeSlice {
		c.gfx.Resample(gputypes.FilterModeLinear)
	}
	c.gfx.Composite(BlendFor(models.ModeOver, c.order))

	logging.Logger().Debug("composite drawn",
		"channels", len(channels), "drawn", res.Drawn, "culled", res.Culled,
		"failed", res.Failed, "slices", res.Slices, "truncated", res.Truncated)
	return res, nil
}

// brickLists returns, per channel, the bricks in merged draw order. Index k
// of every list names peers of the same brick.
func (c *Compositor) brickLists(channels []*Channel, ray models.Ray, opts DrawOptions, res *Result) [][]*models.Brick {
	lists := make([][]*models.Brick, len(channels))

	if c.sched.MemSwap() && opts.Interactive {
		// quota lists never hold priority bricks; count them now so the
		// pass can finish
		if c.sched.Streaming() {
			for _, ch := range channels {
				for _, b := range ch.Source.Bricks() {
					if b.Priority > 0 && c.sched.MarkDrawn(b, opts.Pass) {
						res.Skipped++
					}
				}
			}
		}
		lists[0] = CombinedBricks(channels, c.sched.QuotaCenter(), ray, opts.Orthographic, c.order, opts.Pass)
		for i := 1; i < len(channels); i++ {
			lists[i] = channels[i].Source.QuotaBricks()
		}
		return lists
	}

	lists[0] = channels[0].Source.SortedBricks(ray, opts.Orthographic, c.order)
	for i := 1; i < len(channels); i++ {
		all := channels[i].Source.Bricks()
		peers := make([]*models.Brick, len(lists[0]))
		for k, b := range lists[0] {
			peers[k] = all[b.Ref.Index]
		}
		lists[i] = peers
	}
	return lists
}

// bindChannels makes every channel's textures for one brick resident and
// returns the channels ready to draw. Masks and labels are bound before
// the data texture so a brick only counts as drawn when all of its
// textures are resident.
func (c *Compositor) bindChannels(channels []*Channel, peers []*models.Brick, filter gputypes.FilterMode, pass models.Pass, res *Result) []int {
	var bound []int
	for i, ch := range channels {
		p := peers[i]
		if p.Drawn(pass) {
			continue
		}
		if p.Priority > 0 {
			c.sched.MarkDrawn(p, pass)
			res.Skipped++
			continue
		}

		base := i * unitsPerChannel
		ok := true
		if ch.Mask && p.Payload(models.ComponentMask) != nil {
			ok = c.acquire(p, models.ComponentMask, base+int(SamplerMask), gputypes.FilterModeNearest, false, pass, false)
		}
		if ok && ch.Label && p.Payload(models.ComponentLabel) != nil {
			ok = c.acquire(p, models.ComponentLabel, base+int(SamplerLabel), gputypes.FilterModeNearest, false, pass, false)
		}
		if ok {
			ok = c.acquire(p, models.ComponentData, base+int(SamplerData), filter, ch.Compression, pass, true)
		}
		if !ok {
			for s := 0; s < unitsPerChannel; s++ {
				c.pool.Release(base + s)
			}
			res.Failed++
			continue
		}
		bound = append(bound, i)
	}
	return bound
}

func (c *Compositor) acquire(b *models.Brick, comp models.Component, unit int, filter gputypes.FilterMode, compress bool, pass models.Pass, track bool) bool {
	_, err := c.pool.Acquire(texpool.Request{
		Brick:     b,
		Component: comp,
		Unit:      unit,
		Filter:    filter,
		Compress:  compress,
		Pass:      pass,
		Untracked: !track,
	})
	if err != nil {
		logging.Logger().Warn("brick skipped", "brick", b.Ref, "component", comp, "err", err)
		return false
	}
	return true
}

func (c *Compositor) setParams(prog Program, ch *Channel, b *models.Brick, view View, channel int) {
	p := &ch.Params
	shading := 0.0
	if p.Shading {
		shading = 1
	}
	gamma := 1.0
	if p.Gamma != 0 {
		gamma = 1 / p.Gamma
	}
	spacing := ch.Source.Spacing()

	prog.SetVec4(SlotLight, [4]float64{shading, p.Alpha, 0, 0})
	prog.SetVec4(SlotShading, [4]float64{p.Ambient, p.Diffuse, p.Specular, p.Shine})
	prog.SetVec4(SlotScalar, [4]float64{p.ScalarScale, p.GMScale, p.LowThreshold, p.HighThreshold})
	prog.SetVec4(SlotGamma, [4]float64{gamma, p.Offset, 0, 0})
	prog.SetVec4(SlotBrickScale, [4]float64{inv(float64(b.Dims.NX)), inv(float64(b.Dims.NY)), inv(float64(b.Dims.NZ)), 0})
	prog.SetVec4(SlotSpacing, [4]float64{spacing.X, spacing.Y, spacing.Z, 0})
	prog.SetVec4(SlotColor, [4]float64{p.Color[0], p.Color[1], p.Color[2], p.Alpha})
	prog.SetVec4(SlotColormap, [4]float64{p.ColormapLow, p.ColormapHigh, float64(p.Colormap), 0})
	for j, plane := range p.ClipPlanes {
		prog.SetVec4(SlotClip0+Slot(j), plane)
	}

	if view.Projection != nil {
		prog.SetMatrix(MatrixProjection, view.Projection)
	}
	prog.SetMatrix(MatrixModelView, view.ModelView)
	prog.SetMatrix(MatrixBrick, brickMatrix(b.Box))

	base := channel * unitsPerChannel
	prog.SetSampler(SamplerData, base+int(SamplerData))
	if ch.Mask {
		prog.SetSampler(SamplerMask, base+int(SamplerMask))
	}
	if ch.Label {
		prog.SetSampler(SamplerLabel, base+int(SamplerLabel))
	}
}

func allDrawn(bs []*models.Brick, pass models.Pass) bool {
	for _, b := range bs {
		if !b.Drawn(pass) {
			return false
		}
	}
	return true
}
