package texpool

import (
	"github.com/gogpu/gputypes"
)

// TextureID is a device texture handle. Zero is never a valid texture.
type TextureID uint32

// Device is the subset of the GPU context the pool needs
type Device interface {
	// CreateTexture allocates a texture
	CreateTexture(desc *gputypes.TextureDescriptor) (TextureID, error)

	// WriteTexture uploads the full contents of a texture
	WriteTexture(id TextureID, data []byte) error

	// BindTexture binds a texture to a sampling unit with the given filter
	BindTexture(unit int, id TextureID, filter gputypes.FilterMode)

	// UnbindTexture clears a sampling unit
	UnbindTexture(unit int)

	// DestroyTexture frees a texture
	DestroyTexture(id TextureID)

	// IsTexture reports whether a handle still names a live texture
	IsTexture(id TextureID) bool

	// AvailableMemory returns free texture memory in bytes, false when
	// the device cannot report it
	AvailableMemory() (int64, bool)

	// Features lists optional device capabilities
	Features() gputypes.Features
}
