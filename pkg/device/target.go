package device

import (
	"math"

	"github.com/gogpu/gputypes"
	"gonum.org/v1/gonum/floats"

	"brickstream/pkg/compositor"
)

// rgba is one premultiplied pixel
type rgba [4]float64

// frame is a float RGBA image
type frame struct {
	w, h int
	pix  []rgba
}

func newFrame(w, h int) *frame {
	return &frame{w: w, h: h, pix: make([]rgba, w*h)}
}

func (f *frame) clear() {
	for i := range f.pix {
		f.pix[i] = rgba{}
	}
}

// target holds the two accumulation attachments and the final framebuffer
type target struct {
	attach [2]*frame
	blend  [2]gputypes.BlendState
	final  *frame
}

func newTarget(w, h int) *target {
	t := &target{final: newFrame(w, h)}
	for i := range t.attach {
		t.attach[i] = newFrame(w, h)
		t.blend[i] = gputypes.BlendStateReplace()
	}
	return t
}

func factor(f gputypes.BlendFactor, src, dst rgba, ch int) float64 {
	switch f {
	case gputypes.BlendFactorZero:
		return 0
	case gputypes.BlendFactorOne:
		return 1
	case gputypes.BlendFactorSrc:
		return src[ch]
	case gputypes.BlendFactorOneMinusSrc:
		return 1 - src[ch]
	case gputypes.BlendFactorSrcAlpha:
		return src[3]
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return 1 - src[3]
	case gputypes.BlendFactorDst:
		return dst[ch]
	case gputypes.BlendFactorOneMinusDst:
		return 1 - dst[ch]
	case gputypes.BlendFactorDstAlpha:
		return dst[3]
	case gputypes.BlendFactorOneMinusDstAlpha:
		return 1 - dst[3]
	case gputypes.BlendFactorSrcAlphaSaturated:
		if ch == 3 {
			return 1
		}
		return math.Min(src[3], 1-dst[3])
	}
	return 1
}

func apply(c gputypes.BlendComponent, src, dst rgba, ch int) float64 {
	s := src[ch] * factor(c.SrcFactor, src, dst, ch)
	d := dst[ch] * factor(c.DstFactor, src, dst, ch)
	switch c.Operation {
	case gputypes.BlendOperationSubtract:
		return s - d
	case gputypes.BlendOperationReverseSubtract:
		return d - s
	case gputypes.BlendOperationMin:
		return math.Min(src[ch], dst[ch])
	case gputypes.BlendOperationMax:
		return math.Max(src[ch], dst[ch])
	}
	return s + d
}

// blendPixel combines src into dst under s, clamping to [0,1]
func blendPixel(s gputypes.BlendState, src, dst rgba) rgba {
	var out rgba
	for ch := 0; ch < 3; ch++ {
		out[ch] = apply(s.Color, src, dst, ch)
	}
	out[3] = apply(s.Alpha, src, dst, 3)
	for ch := range out {
		out[ch] = math.Min(math.Max(out[ch], 0), 1)
	}
	return out
}

// Clear zeroes an attachment
func (d *Device) Clear(a compositor.Attachment) {
	d.target.attach[a].clear()
	d.stats.Clears++
}

// SetBlend sets the blend state used when drawing into an attachment
func (d *Device) SetBlend(a compositor.Attachment, s gputypes.BlendState) {
	d.target.blend[a] = s
}

// DrawPolygons rasterizes the screen bounds of each polygon into the
// attachment chosen by the program. The fragment color is the program's
// color scaled by the mean intensity of the texture on its data sampler.
func (d *Device) DrawPolygons(p compositor.Program, polys []compositor.Polygon) {
	prog, ok := p.(*program)
	if !ok || len(polys) == 0 {
		return
	}
	a := compositor.AttachmentPrimary
	if prog.desc.Secondary {
		a = compositor.AttachmentSecondary
	}
	src := d.fragment(prog)
	f := d.target.attach[a]
	s := d.target.blend[a]

	for _, poly := range polys {
		x0, y0, x1, y1, ok := d.bounds(poly)
		if !ok {
			continue
		}
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				i := y*f.w + x
				f.pix[i] = blendPixel(s, src, f.pix[i])
			}
		}
	}
	d.stats.Draws++
	d.stats.Polygons += len(polys)
	if d.OnDraw != nil {
		d.OnDraw(len(polys))
	}
}

func (d *Device) fragment(prog *program) rgba {
	color := prog.vec4[compositor.SlotColor]
	mean := 1.0
	if unit, ok := prog.samplers[compositor.SamplerData]; ok {
		if id, bound := d.units[unit]; bound {
			if t, live := d.textures[id]; live {
				mean = t.mean
			}
		}
	}
	alpha := color[3] * mean
	return rgba{color[0] * alpha, color[1] * alpha, color[2] * alpha, alpha}
}

// bounds maps the polygon's x/y extent from volume space to pixels
func (d *Device) bounds(poly compositor.Polygon) (x0, y0, x1, y1 int, ok bool) {
	if len(poly.Vertices) < 3 {
		return 0, 0, 0, 0, false
	}
	xs := make([]float64, len(poly.Vertices))
	ys := make([]float64, len(poly.Vertices))
	for i, v := range poly.Vertices {
		xs[i], ys[i] = v.X, v.Y
	}
	w, h := d.opts.Width, d.opts.Height
	x0 = clampInt(int(math.Floor(floats.Min(xs)*float64(w))), 0, w-1)
	x1 = clampInt(int(math.Ceil(floats.Max(xs)*float64(w)))-1, 0, w-1)
	y0 = clampInt(int(math.Floor(floats.Min(ys)*float64(h))), 0, h-1)
	y1 = clampInt(int(math.Ceil(floats.Max(ys)*float64(h)))-1, 0, h-1)
	return x0, y0, x1, y1, x1 >= x0 && y1 >= y0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Resample applies a 3x3 box filter to the primary attachment when the
// filter is linear. Nearest leaves it untouched.
func (d *Device) Resample(filter gputypes.FilterMode) {
	d.stats.Resamples++
	if filter != gputypes.FilterModeLinear {
		return
	}
	f := d.target.attach[compositor.AttachmentPrimary]
	out := make([]rgba, len(f.pix))
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			var acc rgba
			n := 0.0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sx, sy := x+dx, y+dy
					if sx < 0 || sy < 0 || sx >= f.w || sy >= f.h {
						continue
					}
					p := f.pix[sy*f.w+sx]
					floats.Add(acc[:], p[:])
					n++
				}
			}
			floats.Scale(1/n, acc[:])
			out[y*f.w+x] = acc
		}
	}
	f.pix = out
}

// Composite blends the primary attachment onto the final framebuffer
func (d *Device) Composite(s gputypes.BlendState) {
	src := d.target.attach[compositor.AttachmentPrimary]
	dst := d.target.final
	for i := range dst.pix {
		dst.pix[i] = blendPixel(s, src.pix[i], dst.pix[i])
	}
	d.stats.Composites++
}

// ClearFinal zeroes the final framebuffer
func (d *Device) ClearFinal() { d.target.final.clear() }

// Size returns the target dimensions
func (d *Device) Size() (int, int) { return d.opts.Width, d.opts.Height }

// Pixel returns a pixel of an attachment as premultiplied RGBA
func (d *Device) Pixel(a compositor.Attachment, x, y int) [4]float64 {
	f := d.target.attach[a]
	return f.pix[y*f.w+x]
}

// FinalPixel returns a pixel of the final framebuffer
func (d *Device) FinalPixel(x, y int) [4]float64 {
	f := d.target.final
	return f.pix[y*f.w+x]
}

// Luminance returns the final framebuffer as row-major luminance in [0,1]
func (d *Device) Luminance() []float64 {
	f := d.target.final
	out := make([]float64, len(f.pix))
	for i, p := range f.pix {
		out[i] = 0.2126*p[0] + 0.7152*p[1] + 0.0722*p[2]
	}
	return out
}
