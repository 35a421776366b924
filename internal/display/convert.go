package display

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/junsooki/camview/internal/frame"
)

// yuvMatrix holds 16.16 fixed-point YCbCr to RGB coefficients.
type yuvMatrix struct {
	yOffset int32
	y       int32
	rCr     int32
	gCb     int32
	gCr     int32
	bCb     int32
}

var (
	// BT.601 limited range, as used by SMPTE 170M.
	bt601Narrow = yuvMatrix{yOffset: 16, y: 76309, rCr: 104597, gCb: 25675, gCr: 53279, bCb: 132201}
	// BT.709 limited range.
	bt709Narrow = yuvMatrix{yOffset: 16, y: 76309, rCr: 117489, gCb: 13975, gCr: 34925, bCb: 138438}
)

// ResolveColorSpace maps the colour space of a YUV buffer to one the
// converter implements. Unknown spaces fall back to SMPTE 170M and report
// false so the caller can log them.
func ResolveColorSpace(cs frame.ColorSpace) (frame.ColorSpace, bool) {
	switch cs {
	case frame.ColorSpaceSmpte170m, frame.ColorSpaceSycc, frame.ColorSpaceRec709:
		return cs, true
	}
	return frame.ColorSpaceSmpte170m, false
}

// ToRGBA converts h into dst, reallocating dst when its size differs.
func ToRGBA(dst *image.RGBA, h *frame.Handle) (*image.RGBA, error) {
	rect := image.Rect(0, 0, h.Width, h.Height)
	if dst == nil || dst.Rect != rect {
		dst = image.NewRGBA(rect)
	}
	src, err := h.Image()
	if err != nil {
		return nil, err
	}
	switch img := src.(type) {
	case *image.RGBA:
		draw.Copy(dst, image.Point{}, img, img.Rect, draw.Src, nil)
	case *image.YCbCr:
		cs, _ := ResolveColorSpace(h.ColorSpace)
		switch cs {
		case frame.ColorSpaceSycc:
			// image/color's YCbCr model is full-range BT.601.
			draw.Copy(dst, image.Point{}, img, img.Rect, draw.Src, nil)
		case frame.ColorSpaceRec709:
			convertYUV420(dst, img, &bt709Narrow)
		default:
			convertYUV420(dst, img, &bt601Narrow)
		}
	default:
		return nil, fmt.Errorf("frame %s: cannot convert %T", h.Key(), src)
	}
	return dst, nil
}

func convertYUV420(dst *image.RGBA, src *image.YCbCr, m *yuvMatrix) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for row := 0; row < h; row++ {
		yLine := src.Y[row*src.YStride:]
		cLine := row / 2 * src.CStride
		out := dst.Pix[row*dst.Stride:]
		for col := 0; col < w; col++ {
			y := (int32(yLine[col]) - m.yOffset) * m.y
			cb := int32(src.Cb[cLine+col/2]) - 128
			cr := int32(src.Cr[cLine+col/2]) - 128
			i := col * 4
			out[i+0] = clamp8(y + m.rCr*cr)
			out[i+1] = clamp8(y - m.gCb*cb - m.gCr*cr)
			out[i+2] = clamp8(y + m.bCb*cb)
			out[i+3] = 0xff
		}
	}
}

func clamp8(v int32) uint8 {
	v = (v + 1<<15) >> 16
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Fit downscales src to fit within maxW x maxH keeping its aspect ratio.
// Zero bounds and images already small enough are returned as is. dst is
// reused when it already has the target size.
func Fit(dst *image.RGBA, src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return src
	}
	tw, th := w, h
	if maxW > 0 && tw > maxW {
		th = th * maxW / tw
		tw = maxW
	}
	if maxH > 0 && th > maxH {
		tw = tw * maxH / th
		th = maxH
	}
	if tw == w && th == h {
		return src
	}
	tw, th = max(tw, 1), max(th, 1)
	rect := image.Rect(0, 0, tw, th)
	if dst == nil || dst.Rect != rect {
		dst = image.NewRGBA(rect)
	}
	draw.ApproxBiLinear.Scale(dst, rect, src, b, draw.Src, nil)
	return dst
}
