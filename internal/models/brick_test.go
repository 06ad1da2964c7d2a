package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestBrickFootprint(t *testing.T) {
	b := &Brick{Dims: Dims{NX: 4, NY: 4, NZ: 2}}
	assert.Zero(t, b.Footprint(ComponentData))

	b.SetPayload(ComponentData, &Payload{Pixel: PixelUint16, Channels: 1})
	b.SetPayload(ComponentMask, &Payload{Pixel: PixelUint8, Channels: 4})
	assert.Equal(t, int64(64), b.Footprint(ComponentData))
	assert.Equal(t, int64(128), b.Footprint(ComponentMask))
	assert.Nil(t, b.Payload(ComponentLabel))
	assert.Nil(t, b.Payload(Component(-1)))
}

func TestDrawnFlagsPerPass(t *testing.T) {
	var b Brick
	b.SetDrawn(PassVolume, true)
	assert.True(t, b.Drawn(PassVolume))
	assert.False(t, b.Drawn(PassOverlay))

	b.ResetDrawn()
	assert.False(t, b.Drawn(PassVolume))
}

func TestViewDistance(t *testing.T) {
	near := r3.Box{Min: r3.Vec{}, Max: r3.Vec{X: 1, Y: 1, Z: 1}}
	far := r3.Box{Min: r3.Vec{Z: 2}, Max: r3.Vec{X: 1, Y: 1, Z: 3}}

	ortho := Ray{Dir: r3.Vec{Z: 1}}
	assert.Less(t, ViewDistance(near, ortho, true), ViewDistance(far, ortho, true))

	persp := Ray{Origin: r3.Vec{X: 0.5, Y: 0.5, Z: 10}, Dir: r3.Vec{Z: -1}}
	assert.Greater(t, ViewDistance(near, persp, false), ViewDistance(far, persp, false))
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "mip", ModeMIP.String())
	assert.Equal(t, "back-to-front", BackToFront.String())
	assert.Equal(t, "label", ComponentLabel.String())
	assert.Equal(t, "uint16", PixelUint16.String())
	assert.Equal(t, 4, PixelUint32.Size())
}
