// Package texpool keeps brick textures resident on the device and evicts the
// ones farthest from the brick being loaded when memory runs short.
package texpool

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/logging"
	"brickstream/internal/models"
	"brickstream/pkg/config"
)

var (
	// ErrInvalidBrick is returned for a brick without usable voxel data
	ErrInvalidBrick = errors.New("texpool: invalid brick")

	// ErrUnsupportedFormat is returned when no texture format fits a payload
	ErrUnsupportedFormat = errors.New("texpool: unsupported pixel format")

	// ErrAllocation is returned when the device refuses a texture
	ErrAllocation = errors.New("texpool: texture allocation failed")

	// ErrUpload is returned when voxel data cannot be written to a texture
	ErrUpload = errors.New("texpool: texture upload failed")
)

// DrawTracker is told about every brick that was successfully made resident
type DrawTracker interface {
	MarkDrawn(b *models.Brick, pass models.Pass) bool
}

// Options configures eviction
type Options struct {
	// MemSwap enables eviction before allocation
	MemSwap bool

	// UseMemLimit tracks MemLimit instead of querying the device
	UseMemLimit bool

	// MemLimit is the static budget in bytes, also used when the device
	// cannot report free memory
	MemLimit int64
}

// OptionsFromConfig derives pool options from the streaming configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MemSwap:     cfg.Streaming.MemSwap,
		UseMemLimit: cfg.Streaming.UseMemLimit,
		MemLimit:    cfg.MemLimitBytes(),
	}
}

// Request describes one texture the caller needs bound
type Request struct {
	Brick     *models.Brick
	Component models.Component
	Unit      int
	Filter    gputypes.FilterMode
	Compress  bool
	Pass      models.Pass

	// Untracked skips the drawn notification, for textures bound ahead of
	// the brick's data texture
	Untracked bool
}

// Entry is one resident texture
type Entry struct {
	// Ref is the owning brick
	Ref models.BrickRef

	// Box is the owning brick's bounds when the entry was created
	Box r3.Box

	Component     models.Component
	Dims          models.Dims
	BytesPerVoxel int
	Pixel         models.PixelType
	Format        gputypes.TextureFormat
	Texture       TextureID

	delayedDelete bool
}

// Footprint returns the texture size in bytes
func (e *Entry) Footprint() int64 {
	return e.Dims.Voxels() * int64(e.BytesPerVoxel)
}

func (e *Entry) matches(b *models.Brick, c models.Component, p *models.Payload) bool {
	return e.Ref == b.Ref &&
		e.Component == c &&
		e.Dims == b.Dims &&
		e.BytesPerVoxel == p.BytesPerVoxel() &&
		e.Pixel == p.Pixel
}

// Stats counts pool activity
type Stats struct {
	Hits         int
	Misses       int
	Stale        int
	Uploads      int
	Evictions    int
	EvictedBytes int64
	Failures     int

	// LastHeadroom is the free memory estimate after the last eviction run
	LastHeadroom int64
}

// Pool maps (brick, component) to resident textures. It is not safe for
// concurrent use.
type Pool struct {
	dev       Device
	opts      Options
	entries   []*Entry
	available int64
	tracker   DrawTracker
	stats     Stats

	queryWarned bool
}

// New creates an empty pool on a device
func New(dev Device, opts Options) *Pool {
	return &Pool{
		dev:       dev,
		opts:      opts,
		available: opts.MemLimit,
	}
}

// SetTracker installs the tracker notified after each successful acquire
func (p *Pool) SetTracker(t DrawTracker) { p.tracker = t }

// SetMemSwap toggles eviction
func (p *Pool) SetMemSwap(v bool) { p.opts.MemSwap = v }

// Acquire returns a bound texture holding the requested brick component,
// uploading it when it is not resident. On failure nothing is recorded and
// the brick stays undrawn so it is retried on a later frame.
func (p *Pool) Acquire(req Request) (TextureID, error) {
	b := req.Brick
	if b == nil {
		return 0, fmt.Errorf("%w: nil brick", ErrInvalidBrick)
	}
	payload := b.Payload(req.Component)
	if payload == nil || !b.Dims.Valid() {
		return 0, fmt.Errorf("%w: %v has no %s data", ErrInvalidBrick, b.Ref, req.Component)
	}
	need := b.Dims.Voxels() * int64(payload.BytesPerVoxel())
	if int64(len(payload.Data)) < need {
		return 0, fmt.Errorf("%w: %v %s payload holds %d of %d bytes",
			ErrInvalidBrick, b.Ref, req.Component, len(payload.Data), need)
	}

	if i := p.lookup(b.Ref, req.Component); i >= 0 {
		e := p.entries[i]
		switch {
		case !e.matches(b, req.Component, payload):
			p.remove(i, true)
		case !p.dev.IsTexture(e.Texture):
			logging.Logger().Warn("stale texture dropped", "brick", b.Ref, "component", req.Component)
			p.stats.Stale++
			p.remove(i, false)
		default:
			p.dev.BindTexture(req.Unit, e.Texture, req.Filter)
			p.stats.Hits++
			p.track(req)
			return e.Texture, nil
		}
	}
	p.stats.Misses++

	if p.opts.MemSwap {
		p.evict(b, need)
	}

	format, err := textureFormat(payload, req.Compress, p.dev.Features())
	if err != nil {
		p.stats.Failures++
		return 0, err
	}

	id, err := p.dev.CreateTexture(textureDescriptor(b, req.Component, format))
	if err != nil {
		p.stats.Failures++
		logging.Logger().Warn("texture allocation failed", "brick", b.Ref, "bytes", need, "err", err)
		return 0, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	if err := p.dev.WriteTexture(id, payload.Data[:need]); err != nil {
		p.dev.DestroyTexture(id)
		p.stats.Failures++
		logging.Logger().Warn("texture upload failed", "brick", b.Ref, "err", err)
		return 0, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	p.entries = append(p.entries, &Entry{
		Ref:           b.Ref,
		Box:           b.Box,
		Component:     req.Component,
		Dims:          b.Dims,
		BytesPerVoxel: payload.BytesPerVoxel(),
		Pixel:         payload.Pixel,
		Format:        format,
		Texture:       id,
	})
	if p.tracking() {
		p.available -= need
	}
	p.stats.Uploads++

	p.dev.BindTexture(req.Unit, id, req.Filter)
	p.track(req)
	return id, nil
}

func (p *Pool) track(req Request) {
	if p.tracker != nil && !req.Untracked {
		p.tracker.MarkDrawn(req.Brick, req.Pass)
	}
}

func (p *Pool) lookup(ref models.BrickRef, c models.Component) int {
	for i, e := range p.entries {
		if e.Ref == ref && e.Component == c {
			return i
		}
	}
	return -1
}

// remove drops entry i. Freed bytes go back to the tracked budget.
func (p *Pool) remove(i int, destroy bool) {
	e := p.entries[i]
	if destroy {
		p.dev.DestroyTexture(e.Texture)
	}
	if p.tracking() {
		p.available += e.Footprint()
	}
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
}

// evict frees the entries farthest from b until need bytes fit. Entries
// sharing b's box belong to the brick being drawn and are never evicted.
func (p *Pool) evict(b *models.Brick, need int64) {
	avail, tracked := p.headroom()
	if avail >= need {
		return
	}

	center := b.Box.Center()
	order := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.Box != b.Box {
			order = append(order, e)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return r3.Norm2(r3.Sub(order[i].Box.Center(), center)) >
			r3.Norm2(r3.Sub(order[j].Box.Center(), center))
	})

	est := avail
	for _, e := range order {
		if est >= need {
			break
		}
		e.delayedDelete = true
		est += e.Footprint()
	}

	for i := len(p.entries) - 1; i >= 0; i-- {
		e := p.entries[i]
		if !e.delayedDelete {
			continue
		}
		p.dev.DestroyTexture(e.Texture)
		p.stats.Evictions++
		p.stats.EvictedBytes += e.Footprint()
		p.entries = append(p.entries[:i], p.entries[i+1:]...)
	}

	if tracked {
		p.available = est
	}
	p.stats.LastHeadroom = est
	logging.Logger().Debug("evicted textures", "need", need, "headroom", est, "resident", len(p.entries))
}

// headroom returns the free memory estimate and whether it comes from the
// tracked counter rather than the device
func (p *Pool) headroom() (int64, bool) {
	if p.opts.UseMemLimit {
		return p.available, true
	}
	if v, ok := p.dev.AvailableMemory(); ok {
		return v, false
	}
	if !p.queryWarned {
		logging.Logger().Warn("device memory query unsupported, using static budget", "budget", p.opts.MemLimit)
		p.queryWarned = true
	}
	return p.available, true
}

// tracking reports whether the pool keeps its own free memory count
func (p *Pool) tracking() bool {
	if p.opts.UseMemLimit {
		return true
	}
	_, ok := p.dev.AvailableMemory()
	return !ok
}

// Release unbinds a sampling unit
func (p *Pool) Release(unit int) {
	p.dev.UnbindTexture(unit)
}

// Clear destroys every resident texture
func (p *Pool) Clear() {
	for i := len(p.entries) - 1; i >= 0; i-- {
		p.remove(i, true)
	}
}

// InvalidateVolume destroys every texture owned by a volume
func (p *Pool) InvalidateVolume(volume int) int {
	n := 0
	for i := len(p.entries) - 1; i >= 0; i-- {
		if p.entries[i].Ref.Volume == volume {
			p.remove(i, true)
			n++
		}
	}
	return n
}

// Len returns the number of resident textures
func (p *Pool) Len() int { return len(p.entries) }

// Entries returns a copy of the resident entries
func (p *Pool) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
	}
	return out
}

// Resident reports whether a brick component has a texture
func (p *Pool) Resident(ref models.BrickRef, c models.Component) bool {
	return p.lookup(ref, c) >= 0
}

// Available returns the tracked free memory estimate. It is left unchanged
// while the device reports free memory itself.
func (p *Pool) Available() int64 { return p.available }

// SetAvailable overrides the tracked free memory estimate
func (p *Pool) SetAvailable(n int64) { p.available = n }

// ResidentBytes sums the footprint of every resident texture
func (p *Pool) ResidentBytes() int64 {
	var n int64
	for _, e := range p.entries {
		n += e.Footprint()
	}
	return n
}

// Stats returns the activity counters
func (p *Pool) Stats() Stats { return p.stats }
