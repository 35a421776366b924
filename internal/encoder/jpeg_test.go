package encoder_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/camview/internal/decoder"
	"github.com/junsooki/camview/internal/encoder"
)

func TestJPEG_RoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}

	enc := encoder.NewJPEGEncoder(90)
	data, err := enc.Encode(src)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	dec := decoder.NewJPEGDecoder()
	w, h, err := dec.Size(data)
	require.NoError(t, err)
	require.Equal(t, []int{32, 16}, []int{w, h})

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	require.NoError(t, dec.DecodeInto(out.Pix, data))
	c := out.RGBAAt(16, 8)
	assert.InDelta(t, 200, int(c.R), 12)
	assert.InDelta(t, 40, int(c.G), 12)
	assert.InDelta(t, 90, int(c.B), 12)
	assert.Equal(t, uint8(255), c.A)
}

func TestJPEG_ReusedAcrossFrames(t *testing.T) {
	enc := encoder.NewJPEGEncoder(80)
	small, err := enc.Encode(image.NewGray(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	large, err := enc.Encode(image.NewRGBA(image.Rect(0, 0, 64, 64)))
	require.NoError(t, err)
	again, err := enc.Encode(image.NewGray(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	assert.Equal(t, small, again, "output does not depend on earlier frames")
	assert.NotEqual(t, small, large)
}

func TestJPEG_EncodesYCbCr(t *testing.T) {
	src := image.NewYCbCr(image.Rect(0, 0, 16, 16), image.YCbCrSubsampleRatio420)
	_, err := encoder.NewJPEGEncoder(50).Encode(src)
	assert.NoError(t, err)
}

func TestJPEG_QualityClamped(t *testing.T) {
	assert.Equal(t, 1, encoder.NewJPEGEncoder(0).Quality())
	assert.Equal(t, 100, encoder.NewJPEGEncoder(500).Quality())
	assert.Equal(t, 70, encoder.NewJPEGEncoder(70).Quality())
}
