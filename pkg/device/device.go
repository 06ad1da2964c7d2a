// Package device is an in-memory GPU stand-in. It accounts texture memory,
// can inject failures, keeps an accumulation target that honours blend
// state, and slices bricks into view-aligned polygons.
package device

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"brickstream/pkg/texpool"
)

var (
	// ErrOutOfMemory is returned when a texture does not fit the capacity
	ErrOutOfMemory = errors.New("device: out of texture memory")

	// ErrInjected is returned by injected failures
	ErrInjected = errors.New("device: injected failure")

	// ErrUnknownTexture is returned for handles the device does not know
	ErrUnknownTexture = errors.New("device: unknown texture")
)

type texture struct {
	desc  gputypes.TextureDescriptor
	bytes int64
	data  []byte
	mean  float64
}

// Options configures a headless device
type Options struct {
	// Capacity is the texture memory in bytes; zero means unlimited
	Capacity int64

	// ReportMemory makes AvailableMemory answer; otherwise the query is
	// unsupported
	ReportMemory bool

	Features gputypes.Features

	// Width and Height size the accumulation target
	Width, Height int
}

// Device implements texpool.Device, compositor.Graphics and
// compositor.ShaderCache
type Device struct {
	opts     Options
	next     texpool.TextureID
	textures map[texpool.TextureID]*texture
	units    map[int]texpool.TextureID
	filters  map[int]gputypes.FilterMode
	used     int64

	failCreate int
	failWrite  int

	// OnDraw is called after every polygon batch with the batch size
	OnDraw func(polys int)

	stats  Stats
	target *target
	cache  *shaderCache
}

// Stats counts device calls
type Stats struct {
	Created    int
	Destroyed  int
	Writes     int
	Binds      int
	Draws      int
	Polygons   int
	Clears     int
	Composites int
	Resamples  int
}

// New creates a headless device
func New(opts Options) *Device {
	if opts.Width <= 0 {
		opts.Width = 64
	}
	if opts.Height <= 0 {
		opts.Height = 64
	}
	d := &Device{
		opts:     opts,
		textures: make(map[texpool.TextureID]*texture),
		units:    make(map[int]texpool.TextureID),
		filters:  make(map[int]gputypes.FilterMode),
	}
	d.target = newTarget(opts.Width, opts.Height)
	d.cache = newShaderCache()
	return d
}

func bytesPerTexel(f gputypes.TextureFormat) (int64, error) {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1, nil
	case gputypes.TextureFormatR16Unorm:
		return 2, nil
	case gputypes.TextureFormatR32Uint, gputypes.TextureFormatRGBA8Uint:
		return 4, nil
	case gputypes.TextureFormatRGBA16Uint:
		return 8, nil
	case gputypes.TextureFormatBC4RUnorm, gputypes.TextureFormatBC1RGBAUnorm:
		// block compressed, stored at the uncompressed upload size
		return 1, nil
	}
	return 0, fmt.Errorf("device: unsupported format %s", f)
}

// CreateTexture allocates a texture, failing when capacity is exceeded
func (d *Device) CreateTexture(desc *gputypes.TextureDescriptor) (texpool.TextureID, error) {
	if d.failCreate > 0 {
		d.failCreate--
		return 0, ErrInjected
	}
	if desc.Dimension != gputypes.TextureDimension3D {
		return 0, fmt.Errorf("device: expected a 3D texture, got %s", desc.Dimension)
	}
	bpt, err := bytesPerTexel(desc.Format)
	if err != nil {
		return 0, err
	}
	if isCompressed(desc.Format) && !d.opts.Features.Contains(gputypes.FeatureTextureCompressionBC) {
		return 0, fmt.Errorf("device: %s needs BC compression support", desc.Format)
	}
	size := int64(desc.Size.Width) * int64(desc.Size.Height) * int64(desc.Size.DepthOrArrayLayers) * bpt
	if d.opts.Capacity > 0 && d.used+size > d.opts.Capacity {
		return 0, fmt.Errorf("%w: %d bytes requested, %d free", ErrOutOfMemory, size, d.opts.Capacity-d.used)
	}

	d.next++
	d.textures[d.next] = &texture{desc: *desc, bytes: size}
	d.used += size
	d.stats.Created++
	return d.next, nil
}

func isCompressed(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatBC4RUnorm || f == gputypes.TextureFormatBC1RGBAUnorm
}

// WriteTexture stores texture contents
func (d *Device) WriteTexture(id texpool.TextureID, data []byte) error {
	if d.failWrite > 0 {
		d.failWrite--
		return ErrInjected
	}
	t, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}
	t.data = append(t.data[:0], data...)
	t.mean = meanIntensity(t.desc.Format, t.data)
	d.stats.Writes++
	return nil
}

// BindTexture binds a texture to a unit
func (d *Device) BindTexture(unit int, id texpool.TextureID, filter gputypes.FilterMode) {
	d.units[unit] = id
	d.filters[unit] = filter
	d.stats.Binds++
}

// UnbindTexture clears a unit
func (d *Device) UnbindTexture(unit int) {
	delete(d.units, unit)
	delete(d.filters, unit)
}

// DestroyTexture frees a texture. Unknown handles are ignored.
func (d *Device) DestroyTexture(id texpool.TextureID) {
	t, ok := d.textures[id]
	if !ok {
		return
	}
	d.used -= t.bytes
	delete(d.textures, id)
	d.stats.Destroyed++
}

// IsTexture reports whether id names a live texture
func (d *Device) IsTexture(id texpool.TextureID) bool {
	_, ok := d.textures[id]
	return ok
}

// AvailableMemory reports free capacity when ReportMemory is set
func (d *Device) AvailableMemory() (int64, bool) {
	if !d.opts.ReportMemory || d.opts.Capacity <= 0 {
		return 0, false
	}
	return d.opts.Capacity - d.used, true
}

// Features returns the configured feature set
func (d *Device) Features() gputypes.Features { return d.opts.Features }

// FailNextCreate makes the next n CreateTexture calls fail
func (d *Device) FailNextCreate(n int) { d.failCreate = n }

// FailNextWrite makes the next n WriteTexture calls fail
func (d *Device) FailNextWrite(n int) { d.failWrite = n }

// Lose drops a texture without accounting, as a context loss would
func (d *Device) Lose(id texpool.TextureID) {
	delete(d.textures, id)
}

// Used returns the bytes held by live textures
func (d *Device) Used() int64 { return d.used }

// Live returns the number of live textures
func (d *Device) Live() int { return len(d.textures) }

// Bound returns the texture bound to a unit
func (d *Device) Bound(unit int) (texpool.TextureID, bool) {
	id, ok := d.units[unit]
	return id, ok
}

// Filter returns the filter of a bound unit
func (d *Device) Filter(unit int) gputypes.FilterMode { return d.filters[unit] }

// Descriptor returns the descriptor a texture was created with
func (d *Device) Descriptor(id texpool.TextureID) (gputypes.TextureDescriptor, bool) {
	t, ok := d.textures[id]
	if !ok {
		return gputypes.TextureDescriptor{}, false
	}
	return t.desc, true
}

// Stats returns the call counters
func (d *Device) Stats() Stats { return d.stats }

// meanIntensity is the average texel value normalized to [0,1]
func meanIntensity(f gputypes.TextureFormat, data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum, scale float64
	n := 0
	switch f {
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatRGBA16Uint:
		for i := 0; i+1 < len(data); i += 2 {
			sum += float64(uint16(data[i]) | uint16(data[i+1])<<8)
			n++
		}
		scale = 65535
	case gputypes.TextureFormatR32Uint:
		for i := 0; i+3 < len(data); i += 4 {
			if data[i]|data[i+1]|data[i+2]|data[i+3] != 0 {
				sum++
			}
			n++
		}
		scale = 1
	default:
		for _, v := range data {
			sum += float64(v)
		}
		n = len(data)
		scale = 255
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n) / scale
}
