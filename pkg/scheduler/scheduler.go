// Package scheduler tracks progress of a multi-frame streaming pass and
// decides how many bricks fit into each frame's time budget.
package scheduler

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/logging"
	"brickstream/internal/models"
	"brickstream/pkg/config"
	"brickstream/pkg/throughput"
)

// State is the phase of the current streaming pass
type State int

const (
	// Idle means no streaming pass is active; everything is drawn in one frame
	Idle State = iota
	// Streaming means the dataset is spread across frames
	Streaming
	// Done means every brick of the pass has been drawn
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	minSpeed = 5.0
	maxSpeed = 20.0
)

// Options configures a scheduler context
type Options struct {
	// Budget is the nominal per-frame time budget
	Budget time.Duration

	// HistorySize is the capacity of the throughput ring
	HistorySize int

	// Strategy is the default estimator
	Strategy throughput.Strategy

	// MemSwap enables streaming passes
	MemSwap bool

	// Clock defaults to the system clock
	Clock Clock
}

// OptionsFromConfig derives scheduler options from the streaming configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	s, err := cfg.EstimatorStrategy()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Budget:      cfg.UpdateBudget(),
		HistorySize: cfg.Streaming.HistorySize,
		Strategy:    s,
		MemSwap:     cfg.Streaming.MemSwap,
	}, nil
}

// Diagnostics is a snapshot of the counters shown to the user
type Diagnostics struct {
	State         State
	Total         int
	Finished      int
	ChanFinished  int
	FrameBricks   int
	ChannelDone   bool
	Consumed      time.Duration
	Budget        time.Duration
	Quota         int
	HistoryLength int
}

// Context holds the streaming state of one GPU context. It is not safe for
// concurrent use; the render thread owns it.
type Context struct {
	opts    Options
	clock   Clock
	history *throughput.Ring

	state        State
	total        int
	finished     int
	chanFinished int

	frameStart     time.Time
	frameBricks    int
	frameStreaming bool
	pending        int
	hasPending     bool
	consumed       time.Duration

	nominal     time.Duration
	corrected   time.Duration
	interactive bool

	quota       int
	quotaCenter r3.Vec
	cursor      int

	clearChanBuffer bool
	saveFinalBuffer bool
	channelDone     bool
}

// New creates an idle scheduler context
func New(opts Options) *Context {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Budget <= 0 {
		opts.Budget = 100 * time.Millisecond
	}
	return &Context{
		opts:      opts,
		clock:     opts.Clock,
		history:   throughput.NewRing(opts.HistorySize),
		nominal:   opts.Budget,
		corrected: opts.Budget,
	}
}

// MemSwap reports whether streaming passes are enabled
func (c *Context) MemSwap() bool { return c.opts.MemSwap }

// Strategy returns the configured estimator
func (c *Context) Strategy() throughput.Strategy { return c.opts.Strategy }

// State returns the phase of the current pass
func (c *Context) State() State { return c.state }

// Streaming reports whether a pass is spread across frames and not finished
func (c *Context) Streaming() bool { return c.state == Streaming }

// MidStream reports whether a streaming pass has drawn some but not all bricks
func (c *Context) MidStream() bool { return c.state == Streaming && c.finished > 0 }

// BeginLoad starts a streaming pass over total bricks, resetting the counters.
// A pending throughput sample from the previous pass is recorded first.
func (c *Context) BeginLoad(total int) {
	c.flushSample()
	c.total = total
	c.finished = 0
	c.chanFinished = 0
	c.cursor = 0
	c.consumed = 0
	c.channelDone = false
	c.clearChanBuffer = true
	c.saveFinalBuffer = false
	c.state = Streaming
	if total <= 0 {
		c.state = Done
	}
	logging.Logger().Info("streaming pass started", "bricks", total)
}

// Halt abandons the current pass
func (c *Context) Halt() {
	c.flushSample()
	c.state = Idle
	c.total = 0
	c.finished = 0
	c.chanFinished = 0
	c.cursor = 0
}

// Total returns the brick count of the current pass
func (c *Context) Total() int { return c.total }

// Finished returns the bricks completed in the current pass
func (c *Context) Finished() int { return c.finished }

// ChanFinished returns the bricks completed for the current channel
func (c *Context) ChanFinished() int { return c.chanFinished }

// BeginFrame opens a new budget window
func (c *Context) BeginFrame() {
	c.flushSample()
	c.frameStart = c.clock.Now()
	c.frameBricks = 0
	c.frameStreaming = c.state == Streaming
}

// EndFrame closes the budget window. The frame's completed count becomes the
// next throughput sample when the frame was streaming. Consumed time is only
// measured on frames that drew something.
func (c *Context) EndFrame() {
	if c.frameBricks > 0 {
		c.consumed = c.Elapsed()
	}
	if c.frameStreaming {
		c.pending = c.frameBricks
		c.hasPending = true
	}
	c.frameStreaming = false
	logging.Logger().Debug("frame finished",
		"bricks", c.frameBricks, "finished", c.finished, "total", c.total,
		"consumed", c.consumed, "budget", c.Budget())
}

func (c *Context) flushSample() {
	if !c.hasPending {
		return
	}
	c.history.Push(float64(c.pending))
	c.hasPending = false
}

// History returns the throughput ring
func (c *Context) History() *throughput.Ring { return c.history }

// Elapsed returns the time spent in the current frame
func (c *Context) Elapsed() time.Duration {
	return c.clock.Now().Sub(c.frameStart)
}

// Consumed returns the duration of the last finished frame that drew bricks
func (c *Context) Consumed() time.Duration { return c.consumed }

// SetInteractive marks whether the view is being manipulated
func (c *Context) SetInteractive(v bool) { c.interactive = v }

// Interactive reports whether the corrected budget applies
func (c *Context) Interactive() bool { return c.interactive }

// SetBudget changes the nominal budget and resets the correction
func (c *Context) SetBudget(d time.Duration) {
	c.nominal = d
	c.corrected = d
}

// SetSpeed recomputes the corrected budget from the manipulation speed.
// Faster manipulation yields a shorter window.
func (c *Context) SetSpeed(speed float64) {
	speed = math.Min(math.Max(speed, minSpeed), maxSpeed)
	c.corrected = time.Duration(math.Log10(100/speed) * float64(c.nominal))
}

// NominalBudget returns the uncorrected budget
func (c *Context) NominalBudget() time.Duration { return c.nominal }

// Budget returns the active budget
func (c *Context) Budget() time.Duration {
	if c.interactive {
		return c.corrected
	}
	return c.nominal
}

// Expired reports whether the active budget has run out
func (c *Context) Expired() bool {
	return c.Elapsed() > c.Budget()
}

// AllowNext reports whether another brick may start this frame. The first
// brick of a frame is always allowed.
func (c *Context) AllowNext(drawnThisFrame int) bool {
	if drawnThisFrame == 0 {
		return true
	}
	return !c.Expired()
}

// MarkDrawn records a brick as done for a pass. It returns false when no
// streaming pass is active or the brick was already counted.
func (c *Context) MarkDrawn(b *models.Brick, pass models.Pass) bool {
	if c.state != Streaming || b.Drawn(pass) {
		return false
	}
	b.SetDrawn(pass, true)
	if c.finished < c.total {
		c.finished++
	}
	c.chanFinished++
	return true
}

// NoteBrickDrawn counts a brick drawn in the current frame
func (c *Context) NoteBrickDrawn() { c.frameBricks++ }

// FrameBricks returns the bricks drawn in the current frame
func (c *Context) FrameBricks() int { return c.frameBricks }

// FinishChannel closes the channel once count bricks were completed for it
// and asks for the final buffer to be saved. The channel buffer keeps its
// content; bricks drawn earlier in the pass are not drawn again.
func (c *Context) FinishChannel(count int) bool {
	if c.state == Idle || c.chanFinished < count {
		c.channelDone = false
		return false
	}
	c.channelDone = true
	c.saveFinalBuffer = true
	c.chanFinished = 0
	return true
}

// ChannelDone reports whether the last FinishChannel closed the channel
func (c *Context) ChannelDone() bool { return c.channelDone }

// CheckDone moves the pass to Done once every brick is finished
func (c *Context) CheckDone() bool {
	if c.state == Streaming && c.finished >= c.total {
		c.state = Done
		c.clearChanBuffer = true
		logging.Logger().Info("streaming pass done", "bricks", c.total)
	}
	return c.state == Done
}

// ClearChannelBuffer reports whether the accumulation target must be cleared
func (c *Context) ClearChannelBuffer() bool { return c.clearChanBuffer }

// ResetClearChannelBuffer acknowledges the clear request
func (c *Context) ResetClearChannelBuffer() { c.clearChanBuffer = false }

// SaveFinalBuffer reports whether the composited result should be kept
func (c *Context) SaveFinalBuffer() bool { return c.saveFinalBuffer }

// ResetSaveFinalBuffer acknowledges the save request
func (c *Context) ResetSaveFinalBuffer() { c.saveFinalBuffer = false }

// Cursor returns the resume position in the merged brick order
func (c *Context) Cursor() int { return c.cursor }

// SetCursor stores the resume position
func (c *Context) SetCursor(i int) { c.cursor = i }

// Estimate predicts the bricks the next window can take, scaled by the
// corrected to nominal budget ratio while interactive.
func (c *Context) Estimate(s throughput.Strategy) (int, bool) {
	v, ok := throughput.Estimate(c.history, s)
	if !ok {
		return 0, false
	}
	return int(math.Round(v * c.budgetRatio())), true
}

func (c *Context) budgetRatio() float64 {
	if !c.interactive || c.nominal <= 0 {
		return 1
	}
	return float64(c.corrected) / float64(c.nominal)
}

// ComputeQuota sizes the brick quota for the next interactive frame and
// stores it. Nothing consumed yet means everything; a single frame that took
// longer than total budgets means one brick; otherwise the last sample is
// rescaled to the budget and folded into the estimate.
func (c *Context) ComputeQuota(s throughput.Strategy) int {
	total := c.total
	budget := c.Budget()
	quota := 1

	switch {
	case c.consumed == 0:
		quota = total
	case budget > 0 && int(c.consumed/budget) > total:
		quota = 1
	default:
		last, ok := c.history.Last()
		if !ok {
			last = 1
		}
		adj := max(1, int(last*float64(budget)/float64(c.consumed)))

		extended := throughput.NewRing(c.history.Cap() + 1)
		for _, v := range c.history.Values() {
			extended.Push(v)
		}
		extended.Push(float64(adj))
		if v, ok := throughput.Estimate(extended, s); ok {
			quota = int(math.Round(v))
		}
	}

	quota = max(1, min(total, quota))
	c.quota = quota
	logging.Logger().Debug("quota computed", "quota", quota, "total", total, "consumed", c.consumed)
	return quota
}

// SetQuota overrides the stored quota
func (c *Context) SetQuota(n int) { c.quota = n }

// Quota returns the stored quota
func (c *Context) Quota() int { return c.quota }

// SetQuotaCenter pins the point bricks are prioritised around
func (c *Context) SetQuotaCenter(p r3.Vec) { c.quotaCenter = p }

// QuotaCenter returns the quota anchor point
func (c *Context) QuotaCenter() r3.Vec { return c.quotaCenter }

// Diagnostics returns a snapshot of the counters
func (c *Context) Diagnostics() Diagnostics {
	return Diagnostics{
		State:         c.state,
		Total:         c.total,
		Finished:      c.finished,
		ChanFinished:  c.chanFinished,
		FrameBricks:   c.frameBricks,
		ChannelDone:   c.channelDone,
		Consumed:      c.consumed,
		Budget:        c.Budget(),
		Quota:         c.quota,
		HistoryLength: c.history.Len(),
	}
}
