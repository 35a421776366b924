package frame

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yuvHandle(t *testing.T, w, h int, release func()) *Handle {
	t.Helper()
	planes := YUV420Planes(w, h)
	data := make([]byte, Size(planes))
	return NewHandle(Key{ID: 3, Generation: 1},
		Geometry{Width: w, Height: h, Format: FormatYUV420},
		planes, data, release)
}

func TestHandle_ReleaseOnce(t *testing.T) {
	calls := 0
	h := yuvHandle(t, 4, 2, func() { calls++ })

	assert.False(t, h.Released())
	assert.True(t, h.Release())
	assert.False(t, h.Release(), "second release must be rejected")
	assert.True(t, h.Released())
	assert.Equal(t, 1, calls)
}

func TestYUV420Planes(t *testing.T) {
	planes := YUV420Planes(640, 480)
	require.Len(t, planes, 3)

	assert.Equal(t, Plane{Offset: 0, Stride: 640, Length: 640 * 480}, planes[0])
	assert.Equal(t, Plane{Offset: 640 * 480, Stride: 320, Length: 320 * 240}, planes[1])
	assert.Equal(t, Plane{Offset: 640*480 + 320*240, Stride: 320, Length: 320 * 240}, planes[2])
	assert.Equal(t, 640*480*3/2, Size(planes))
}

func TestYUV420Planes_OddSize(t *testing.T) {
	planes := YUV420Planes(5, 5)
	require.Len(t, planes, 3)

	assert.Equal(t, Plane{Offset: 25, Stride: 3, Length: 9}, planes[1])
	assert.Equal(t, Plane{Offset: 34, Stride: 3, Length: 9}, planes[2])
	assert.Equal(t, 43, Size(planes))

	h := yuvHandle(t, 5, 5, nil)
	require.NoError(t, h.Validate())
	img, err := h.Image()
	require.NoError(t, err)
	ycc := img.(*image.YCbCr)
	assert.Equal(t, 8, ycc.COffset(4, 4), "bottom right chroma sample is the last one in the plane")
}

func TestHandle_ImageSharesData(t *testing.T) {
	h := yuvHandle(t, 4, 2, nil)
	h.Data[0] = 200

	img, err := h.Image()
	require.NoError(t, err)

	ycc, ok := img.(*image.YCbCr)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 4, 2), ycc.Rect)
	assert.Equal(t, uint8(200), ycc.Y[0])

	h.Data[0] = 10
	assert.Equal(t, uint8(10), ycc.Y[0], "image must alias the buffer")
}

func TestHandle_ImageRGBA(t *testing.T) {
	planes := RGBAPlanes(2, 2)
	h := NewHandle(Key{ID: 1}, Geometry{Width: 2, Height: 2, Format: FormatRGBA},
		planes, make([]byte, Size(planes)), nil)

	img, err := h.Image()
	require.NoError(t, err)
	_, ok := img.(*image.RGBA)
	assert.True(t, ok)
}

func TestHandle_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(h *Handle)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Handle) {}},
		{name: "zero width", mutate: func(h *Handle) { h.Width = 0 }, wantErr: true},
		{name: "no planes", mutate: func(h *Handle) { h.Planes = nil }, wantErr: true},
		{name: "short data", mutate: func(h *Handle) { h.Data = h.Data[:4] }, wantErr: true},
		{name: "two planes", mutate: func(h *Handle) { h.Planes = h.Planes[:2] }, wantErr: true},
		{name: "luma stride below width", mutate: func(h *Handle) { h.Planes[0].Stride = 3 }, wantErr: true},
		{name: "chroma stride below half width", mutate: func(h *Handle) {
			h.Planes[1].Stride = 1
			h.Planes[2].Stride = 1
		}, wantErr: true},
		{name: "short chroma plane", mutate: func(h *Handle) { h.Planes[2].Length = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := yuvHandle(t, 4, 2, nil)
			tt.mutate(h)
			err := h.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHandle_ValidateRGBA(t *testing.T) {
	planes := RGBAPlanes(3, 2)
	h := NewHandle(Key{ID: 1}, Geometry{Width: 3, Height: 2, Format: FormatRGBA},
		planes, make([]byte, Size(planes)), nil)
	require.NoError(t, h.Validate())

	h.Planes[0].Length = 4*3 + 4
	assert.Error(t, h.Validate())
}

func TestHandle_ImageUnsupportedFormat(t *testing.T) {
	h := NewHandle(Key{ID: 1}, Geometry{Width: 2, Height: 2, Format: FormatYUYV},
		[]Plane{{Stride: 4, Length: 8}}, make([]byte, 8), nil)

	_, err := h.Image()
	assert.Error(t, err)
}

func TestHandle_Geometry(t *testing.T) {
	h := yuvHandle(t, 4, 2, nil)
	assert.Equal(t, Geometry{Width: 4, Height: 2, Format: FormatYUV420, Stride: 4}, h.Geometry())
	assert.Equal(t, "3/1", h.Key().String())
}

func TestParseColorSpace(t *testing.T) {
	cs, err := ParseColorSpace("rec709")
	require.NoError(t, err)
	assert.Equal(t, ColorSpaceRec709, cs)

	cs, err = ParseColorSpace("")
	require.NoError(t, err)
	assert.Equal(t, ColorSpaceSmpte170m, cs)

	_, err = ParseColorSpace("bt2020")
	assert.Error(t, err)
}
