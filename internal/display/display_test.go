package display

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/camview/internal/fault"
	"github.com/junsooki/camview/internal/frame"
)

func yuvHandle(t *testing.T, id frame.ID, gen uint64, w, h int, cs frame.ColorSpace, y, cb, cr byte) *frame.Handle {
	t.Helper()
	planes := frame.YUV420Planes(w, h)
	data := make([]byte, frame.Size(planes))
	for i := range data[:planes[0].Length] {
		data[i] = y
	}
	for i := planes[1].Offset; i < planes[1].Offset+planes[1].Length; i++ {
		data[i] = cb
	}
	for i := planes[2].Offset; i < planes[2].Offset+planes[2].Length; i++ {
		data[i] = cr
	}
	geo := frame.Geometry{Width: w, Height: h, Format: frame.FormatYUV420, ColorSpace: cs, Stride: w}
	return frame.NewHandle(frame.Key{ID: id, Generation: gen}, geo, planes, data, nil)
}

func TestDoneTracker_ReleasesPreviousOnShown(t *testing.T) {
	var tr DoneTracker
	var released []frame.Key
	tr.SetDone(func(h *frame.Handle) { released = append(released, h.Key()) })

	a := yuvHandle(t, 1, 1, 4, 4, frame.ColorSpaceSycc, 0, 0, 0)
	b := yuvHandle(t, 2, 1, 4, 4, frame.ColorSpaceSycc, 0, 0, 0)

	tr.Shown(a)
	assert.Empty(t, released)
	assert.Same(t, a, tr.Held())

	tr.Shown(a)
	assert.Empty(t, released, "showing the same buffer again must not release it")

	tr.Shown(b)
	assert.Equal(t, []frame.Key{{ID: 1, Generation: 1}}, released)

	tr.Flush()
	tr.Flush()
	assert.Equal(t, []frame.Key{{ID: 1, Generation: 1}, {ID: 2, Generation: 1}}, released)
	assert.Nil(t, tr.Held())
}

func TestNull_RenderAndClose(t *testing.T) {
	n := NewNull(0)
	var released int
	n.SetDone(func(*frame.Handle) { released++ })

	h1 := yuvHandle(t, 0, 1, 4, 4, frame.ColorSpaceSycc, 0, 0, 0)
	h2 := yuvHandle(t, 1, 1, 4, 4, frame.ColorSpaceSycc, 0, 0, 0)
	res, err := n.Import(h1)
	require.NoError(t, err)
	require.NoError(t, n.Render(context.Background(), res, h1))
	require.NoError(t, n.Render(context.Background(), res, h2))
	assert.Equal(t, 1, released)
	assert.Equal(t, uint64(2), n.Rendered())

	require.NoError(t, n.Close())
	assert.Equal(t, 2, released)

	err = n.Render(context.Background(), res, h1)
	assert.True(t, errors.Is(err, fault.ErrSinkClosed))
}

func TestSelect_FallsBackInOrder(t *testing.T) {
	var tried []string
	factories := []Factory{
		{Name: "gpu", New: func() (Sink, error) {
			tried = append(tried, "gpu")
			return nil, errors.New("no display")
		}},
		{Name: "null", New: func() (Sink, error) {
			tried = append(tried, "null")
			return NewNull(0), nil
		}},
		{Name: "never", New: func() (Sink, error) {
			tried = append(tried, "never")
			return NewNull(0), nil
		}},
	}
	sink, err := Select(factories, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "null", sink.Name())
	assert.Equal(t, []string{"gpu", "null"}, tried)
}

func TestSelect_AllFail(t *testing.T) {
	_, err := Select([]Factory{
		{Name: "a", New: func() (Sink, error) { return nil, errors.New("a broken") }},
		{Name: "b", New: func() (Sink, error) { return nil, errors.New("b broken") }},
	}, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, fault.KindBackendImport, fault.KindOf(err))
	assert.Contains(t, err.Error(), "a broken")
	assert.Contains(t, err.Error(), "b broken")

	_, err = Select(nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestCheckFormat(t *testing.T) {
	h := yuvHandle(t, 0, 1, 4, 4, frame.ColorSpaceSycc, 0, 0, 0)
	assert.NoError(t, CheckFormat(h))

	h.Format = frame.FormatYUYV
	assert.Error(t, CheckFormat(h))

	short := yuvHandle(t, 0, 1, 5, 5, frame.ColorSpaceSmpte170m, 0, 0, 0)
	short.Planes[1].Stride = 2
	short.Planes[2].Stride = 2
	assert.Error(t, CheckFormat(short), "chroma rows narrower than half the width rounded up")
}

func TestToRGBA_OddSize(t *testing.T) {
	for _, cs := range []frame.ColorSpace{frame.ColorSpaceSmpte170m, frame.ColorSpaceSycc} {
		h := yuvHandle(t, 0, 1, 5, 5, cs, 235, 128, 128)
		require.NoError(t, CheckFormat(h))

		var dst *image.RGBA
		require.NotPanics(t, func() {
			var err error
			dst, err = ToRGBA(nil, h)
			require.NoError(t, err)
		})
		c := dst.RGBAAt(4, 4)
		assert.InDelta(t, 255, c.R, 1)
		assert.Equal(t, uint8(255), c.A)
	}
}

func TestToRGBA_ColorSpaces(t *testing.T) {
	tests := []struct {
		name    string
		cs      frame.ColorSpace
		y       byte
		want    uint8
		wantLog bool
	}{
		{"narrow 601 black", frame.ColorSpaceSmpte170m, 16, 0, false},
		{"narrow 601 white", frame.ColorSpaceSmpte170m, 235, 255, false},
		{"narrow 709 white", frame.ColorSpaceRec709, 235, 255, false},
		{"full range black", frame.ColorSpaceSycc, 0, 0, false},
		{"full range white", frame.ColorSpaceSycc, 255, 255, false},
		{"unknown falls back to 601", frame.ColorSpaceRaw, 235, 255, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := yuvHandle(t, 0, 1, 8, 4, tt.cs, tt.y, 128, 128)
			_, ok := ResolveColorSpace(tt.cs)
			assert.Equal(t, !tt.wantLog, ok)

			dst, err := ToRGBA(nil, h)
			require.NoError(t, err)
			c := dst.RGBAAt(3, 2)
			assert.InDelta(t, tt.want, c.R, 1)
			assert.InDelta(t, tt.want, c.G, 1)
			assert.InDelta(t, tt.want, c.B, 1)
			assert.Equal(t, uint8(255), c.A)
		})
	}
}

func TestToRGBA_ReusesDestination(t *testing.T) {
	h := yuvHandle(t, 0, 1, 8, 4, frame.ColorSpaceSycc, 100, 128, 128)
	first, err := ToRGBA(nil, h)
	require.NoError(t, err)
	second, err := ToRGBA(first, h)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestToRGBA_CopiesRGBA(t *testing.T) {
	planes := frame.RGBAPlanes(2, 2)
	data := make([]byte, frame.Size(planes))
	copy(data, []byte{10, 20, 30, 255})
	geo := frame.Geometry{Width: 2, Height: 2, Format: frame.FormatRGBA, ColorSpace: frame.ColorSpaceRaw, Stride: 8}
	h := frame.NewHandle(frame.Key{ID: 0, Generation: 1}, geo, planes, data, nil)

	dst, err := ToRGBA(nil, h)
	require.NoError(t, err)
	c := dst.RGBAAt(0, 0)
	assert.Equal(t, uint8(10), c.R)
	assert.Equal(t, uint8(20), c.G)
	assert.Equal(t, uint8(30), c.B)
}

func TestFit(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))
	tests := []struct {
		name       string
		maxW, maxH int
		want       image.Rectangle
	}{
		{"unbounded", 0, 0, src.Rect},
		{"already fits", 1280, 720, src.Rect},
		{"width bound", 320, 0, image.Rect(0, 0, 320, 240)},
		{"height bound", 0, 120, image.Rect(0, 0, 160, 120)},
		{"both bounds", 320, 320, image.Rect(0, 0, 320, 240)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Fit(nil, src, tt.maxW, tt.maxH)
			assert.Equal(t, tt.want, out.Bounds())
		})
	}
}
