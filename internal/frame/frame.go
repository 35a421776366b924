package frame

import (
	"fmt"
	"image"
	"sync/atomic"
	"time"
)

// ID identifies the memory region backing a capture buffer. It stays stable
// for the lifetime of the device configuration and is reused across leases.
type ID int

// Key names a single lease of a buffer.
type Key struct {
	ID         ID
	Generation uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.ID, k.Generation)
}

// PixelFormat describes how pixel data is laid out in the planes.
type PixelFormat int

const (
	// FormatYUV420 is three-plane 8-bit YUV with 2x2 chroma subsampling.
	FormatYUV420 PixelFormat = iota
	// FormatRGBA is a single plane of 8-bit RGBA, alpha premultiplied.
	FormatRGBA
	// FormatYUYV is packed 4:2:2. Sources may emit it; no backend imports it.
	FormatYUYV
)

func (f PixelFormat) String() string {
	switch f {
	case FormatYUV420:
		return "YUV420"
	case FormatRGBA:
		return "RGBA"
	case FormatYUYV:
		return "YUYV"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// ColorSpace is the YCbCr encoding and range of a buffer.
type ColorSpace int

const (
	ColorSpaceSmpte170m ColorSpace = iota
	ColorSpaceSycc
	ColorSpaceRec709
	ColorSpaceRaw
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceSmpte170m:
		return "smpte170m"
	case ColorSpaceSycc:
		return "sycc"
	case ColorSpaceRec709:
		return "rec709"
	case ColorSpaceRaw:
		return "raw"
	default:
		return fmt.Sprintf("ColorSpace(%d)", int(c))
	}
}

// ParseColorSpace maps a config name to a ColorSpace.
func ParseColorSpace(s string) (ColorSpace, error) {
	switch s {
	case "smpte170m", "":
		return ColorSpaceSmpte170m, nil
	case "sycc":
		return ColorSpaceSycc, nil
	case "rec709":
		return ColorSpaceRec709, nil
	case "raw":
		return ColorSpaceRaw, nil
	}
	return 0, fmt.Errorf("unknown colour space %q", s)
}

// Plane is one region of a buffer.
type Plane struct {
	Offset int
	Stride int
	Length int
}

// Geometry is the part of a handle that must not change while a backend
// resource imported from it is reused.
type Geometry struct {
	Width      int
	Height     int
	Format     PixelFormat
	ColorSpace ColorSpace
	Stride     int
}

// Handle is a lent capture buffer. The capture source owns Data; the
// pipeline may read it until Release is called, which must happen exactly
// once per lease.
type Handle struct {
	ID         ID
	Generation uint64
	Seq        uint64
	Timestamp  time.Time

	Width      int
	Height     int
	Format     PixelFormat
	ColorSpace ColorSpace
	Planes     []Plane
	Data       []byte

	release  func()
	released atomic.Bool
}

// NewHandle builds a handle whose Release invokes release once.
func NewHandle(key Key, geo Geometry, planes []Plane, data []byte, release func()) *Handle {
	return &Handle{
		ID:         key.ID,
		Generation: key.Generation,
		Timestamp:  time.Now(),
		Width:      geo.Width,
		Height:     geo.Height,
		Format:     geo.Format,
		ColorSpace: geo.ColorSpace,
		Planes:     planes,
		Data:       data,
		release:    release,
	}
}

// Key returns the lease key of the handle.
func (h *Handle) Key() Key {
	return Key{ID: h.ID, Generation: h.Generation}
}

// Geometry returns the layout of the handle.
func (h *Handle) Geometry() Geometry {
	g := Geometry{
		Width:      h.Width,
		Height:     h.Height,
		Format:     h.Format,
		ColorSpace: h.ColorSpace,
	}
	if len(h.Planes) > 0 {
		g.Stride = h.Planes[0].Stride
	}
	return g
}

// Release returns the buffer to its source. It reports false if the lease
// was already released.
func (h *Handle) Release() bool {
	if !h.released.CompareAndSwap(false, true) {
		return false
	}
	if h.release != nil {
		h.release()
	}
	return true
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// Validate checks that every plane lies inside Data.
func (h *Handle) Validate() error {
	if h.Width <= 0 || h.Height <= 0 {
		return fmt.Errorf("frame %s: invalid size %dx%d", h.Key(), h.Width, h.Height)
	}
	if len(h.Planes) == 0 {
		return fmt.Errorf("frame %s: no planes", h.Key())
	}
	for i, p := range h.Planes {
		if p.Offset < 0 || p.Length < 0 || p.Offset+p.Length > len(h.Data) {
			return fmt.Errorf("frame %s: plane %d [%d,+%d) outside buffer of %d bytes",
				h.Key(), i, p.Offset, p.Length, len(h.Data))
		}
	}
	switch h.Format {
	case FormatYUV420:
		if len(h.Planes) != 3 {
			return fmt.Errorf("frame %s: YUV420 needs 3 planes, have %d", h.Key(), len(h.Planes))
		}
		cw, ch := (h.Width+1)/2, (h.Height+1)/2
		if err := h.checkPlane(0, h.Width, h.Height); err != nil {
			return err
		}
		if err := h.checkPlane(1, cw, ch); err != nil {
			return err
		}
		return h.checkPlane(2, cw, ch)
	case FormatRGBA:
		return h.checkPlane(0, 4*h.Width, h.Height)
	}
	return nil
}

// checkPlane reports whether plane i holds rows of rowBytes bytes.
func (h *Handle) checkPlane(i, rowBytes, rows int) error {
	p := h.Planes[i]
	if p.Stride < rowBytes {
		return fmt.Errorf("frame %s: plane %d stride %d below row of %d bytes", h.Key(), i, p.Stride, rowBytes)
	}
	if need := p.Stride*(rows-1) + rowBytes; p.Length < need {
		return fmt.Errorf("frame %s: plane %d has %d bytes, %dx%d needs %d", h.Key(), i, p.Length, rowBytes, rows, need)
	}
	return nil
}

// Image returns a view of the buffer that shares Data. Only YUV420 and RGBA
// buffers have an image representation.
func (h *Handle) Image() (image.Image, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, h.Width, h.Height)
	switch h.Format {
	case FormatYUV420:
		if len(h.Planes) != 3 {
			return nil, fmt.Errorf("frame %s: YUV420 needs 3 planes, have %d", h.Key(), len(h.Planes))
		}
		y, u, v := h.Planes[0], h.Planes[1], h.Planes[2]
		if u.Stride != v.Stride {
			return nil, fmt.Errorf("frame %s: chroma strides differ (%d, %d)", h.Key(), u.Stride, v.Stride)
		}
		return &image.YCbCr{
			Y:              h.Data[y.Offset : y.Offset+y.Length],
			Cb:             h.Data[u.Offset : u.Offset+u.Length],
			Cr:             h.Data[v.Offset : v.Offset+v.Length],
			YStride:        y.Stride,
			CStride:        u.Stride,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil
	case FormatRGBA:
		p := h.Planes[0]
		return &image.RGBA{
			Pix:    h.Data[p.Offset : p.Offset+p.Length],
			Stride: p.Stride,
			Rect:   rect,
		}, nil
	default:
		return nil, fmt.Errorf("frame %s: no image view for %s", h.Key(), h.Format)
	}
}

// YUV420Planes lays out a three-plane YUV420 buffer: Y at 0 with the given
// stride, U at stride*height and V after U. Chroma planes cover odd sizes,
// so their stride is half the luma stride rounded up.
func YUV420Planes(stride, height int) []Plane {
	ySize := stride * height
	cStride := (stride + 1) / 2
	cSize := cStride * ((height + 1) / 2)
	return []Plane{
		{Offset: 0, Stride: stride, Length: ySize},
		{Offset: ySize, Stride: cStride, Length: cSize},
		{Offset: ySize + cSize, Stride: cStride, Length: cSize},
	}
}

// RGBAPlanes lays out a single-plane RGBA buffer.
func RGBAPlanes(width, height int) []Plane {
	return []Plane{{Offset: 0, Stride: width * 4, Length: width * 4 * height}}
}

// Size returns the number of bytes a buffer with the given planes needs.
func Size(planes []Plane) int {
	n := 0
	for _, p := range planes {
		if end := p.Offset + p.Length; end > n {
			n = end
		}
	}
	return n
}
