package compositor

import (
	"github.com/gogpu/gputypes"

	"brickstream/internal/models"
)

func blendState(src, dst gputypes.BlendFactor, op gputypes.BlendOperation) gputypes.BlendState {
	c := gputypes.BlendComponent{SrcFactor: src, DstFactor: dst, Operation: op}
	return gputypes.BlendState{Color: c, Alpha: c}
}

// BlendFor returns the accumulation blend state for a render mode.
// Over compositing depends on the update order; MIP keeps the maximum.
// Slice mode replaces the target.
func BlendFor(mode models.RenderMode, order models.UpdateOrder) gputypes.BlendState {
	switch mode {
	case models.ModeMIP:
		return blendState(gputypes.BlendFactorOne, gputypes.BlendFactorOne, gputypes.BlendOperationMax)
	case models.ModeOver:
		if order == models.BackToFront {
			return blendState(gputypes.BlendFactorOneMinusDstAlpha, gputypes.BlendFactorOne, gputypes.BlendOperationAdd)
		}
		return blendState(gputypes.BlendFactorOne, gputypes.BlendFactorOneMinusSrcAlpha, gputypes.BlendOperationAdd)
	}
	return gputypes.BlendStateReplace()
}

// SecondaryBlend is the additive blend used by the shading/depth attachment
func SecondaryBlend() gputypes.BlendState {
	return blendState(gputypes.BlendFactorOne, gputypes.BlendFactorOne, gputypes.BlendOperationAdd)
}
