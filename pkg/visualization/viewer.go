// Package visualization turns volumes and composited frames into images and
// writes them to disk.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"brickstream/internal/models"
	"brickstream/pkg/catalog"
)

// ErrInvalidAxis is returned for axis names other than x, y or z
var ErrInvalidAxis = errors.New("invalid axis")

// Viewer renders axis-aligned slices of a channel volume
type Viewer struct {
	// vol holds the full-resolution channel
	vol *catalog.Volume

	// scale maps raw voxel values to [0,1]
	scale float64
}

// NewViewer creates a viewer over a single-scalar volume
func NewViewer(vol *catalog.Volume) (*Viewer, error) {
	if vol == nil || !vol.Res.Valid() {
		return nil, fmt.Errorf("viewer needs a non-empty volume")
	}
	if vol.Channels > 1 {
		return nil, fmt.Errorf("viewer supports single-scalar volumes, got %d channels", vol.Channels)
	}
	if int64(len(vol.Data)) < vol.Size() {
		return nil, fmt.Errorf("volume holds %d of %d bytes", len(vol.Data), vol.Size())
	}

	scale := 1.0 / 255
	switch vol.Pixel {
	case models.PixelUint16:
		scale = 1.0 / 65535
	case models.PixelUint32:
		scale = 1.0 / float64(^uint32(0))
	}
	return &Viewer{vol: vol, scale: scale}, nil
}

// value returns the normalized voxel at x, y, z
func (v *Viewer) value(x, y, z int) float64 {
	r := v.vol.Res
	idx := (z*r.NY+y)*r.NX + x
	d := v.vol.Data
	switch v.vol.Pixel {
	case models.PixelUint16:
		i := idx * 2
		return float64(uint16(d[i])|uint16(d[i+1])<<8) * v.scale
	case models.PixelUint32:
		i := idx * 4
		return float64(uint32(d[i])|uint32(d[i+1])<<8|uint32(d[i+2])<<16|uint32(d[i+3])<<24) * v.scale
	}
	return float64(d[idx]) * v.scale
}

func gray(value float64) color.Gray16 {
	return color.Gray16{Y: uint16(max(0, min(65535, value*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	r := v.vol.Res

	var img *image.Gray16
	switch axis {
	case "x", "X":
		// YZ plane
		if position >= r.NX {
			return nil, fmt.Errorf("position %d exceeds width %d", position, r.NX)
		}
		img = image.NewGray16(image.Rect(0, 0, r.NZ, r.NY))
		for y := 0; y < r.NY; y++ {
			for z := 0; z < r.NZ; z++ {
				img.SetGray16(z, y, gray(v.value(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= r.NY {
			return nil, fmt.Errorf("position %d exceeds height %d", position, r.NY)
		}
		img = image.NewGray16(image.Rect(0, 0, r.NX, r.NZ))
		for z := 0; z < r.NZ; z++ {
			for x := 0; x < r.NX; x++ {
				img.SetGray16(x, z, gray(v.value(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= r.NZ {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, r.NZ)
		}
		img = image.NewGray16(image.Rect(0, 0, r.NX, r.NY))
		for y := 0; y < r.NY; y++ {
			for x := 0; x < r.NX; x++ {
				img.SetGray16(x, y, gray(v.value(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("%w: %s (must be x, y, or z)", ErrInvalidAxis, axis)
	}

	return img, nil
}

// FrameImage converts row-major luminance to an image. With normalize set
// the brightest pixel maps to white.
func FrameImage(lum []float64, width, height int, normalize bool) (image.Image, error) {
	if width <= 0 || height <= 0 || len(lum) < width*height {
		return nil, fmt.Errorf("frame of %d values does not fill %dx%d", len(lum), width, height)
	}
	scale := 1.0
	if normalize {
		if peak := floats.Max(lum[:width*height]); peak > 0 {
			scale = 1 / peak
		}
	}

	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// frames are stored bottom row first
			img.SetGray16(x, height-1-y, gray(lum[y*width+x]*scale))
		}
	}
	return img, nil
}

// SaveSlice saves an image as a JPEG file
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveFrame writes a frame image as frame_NNNN.jpg under dir
func SaveFrame(img image.Image, dir string, index int) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	filename := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", index))
	return filename, SaveSlice(img, filename)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Res.NX
	case "y", "Y":
		maxPos = v.vol.Res.NY
	case "z", "Z":
		maxPos = v.vol.Res.NZ
	default:
		return fmt.Errorf("%w: %s (must be x, y, or z)", ErrInvalidAxis, axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
