package texpool

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"brickstream/internal/models"
)

// textureFormat picks the internal format for a payload. Compressed formats
// are used only when requested and the device supports BC compression.
func textureFormat(p *models.Payload, compress bool, features gputypes.Features) (gputypes.TextureFormat, error) {
	bc := compress && features.Contains(gputypes.FeatureTextureCompressionBC)

	switch p.Channels {
	case 0, 1:
		switch p.Pixel {
		case models.PixelUint8:
			if bc {
				return gputypes.TextureFormatBC4RUnorm, nil
			}
			return gputypes.TextureFormatR8Unorm, nil
		case models.PixelUint16:
			return gputypes.TextureFormatR16Unorm, nil
		case models.PixelUint32:
			return gputypes.TextureFormatR32Uint, nil
		}
	case 4:
		switch p.Pixel {
		case models.PixelUint8:
			if bc {
				return gputypes.TextureFormatBC1RGBAUnorm, nil
			}
			return gputypes.TextureFormatRGBA8Uint, nil
		case models.PixelUint16:
			return gputypes.TextureFormatRGBA16Uint, nil
		}
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("%w: %d x %s", ErrUnsupportedFormat, p.Channels, p.Pixel)
}

func textureDescriptor(b *models.Brick, c models.Component, format gputypes.TextureFormat) *gputypes.TextureDescriptor {
	return &gputypes.TextureDescriptor{
		Label:         fmt.Sprintf("brick %d/%d %s", b.Ref.Volume, b.Ref.Index, c),
		Size:          gputypes.NewExtent3D(uint32(b.Dims.NX), uint32(b.Dims.NY), uint32(b.Dims.NZ)),
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension3D,
		Format:        format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	}
}
