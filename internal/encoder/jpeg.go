package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync/atomic"
)

// JPEGEncoder encodes frames as JPEG at a fixed quality. It is safe for
// concurrent use.
type JPEGEncoder struct {
	opts jpeg.Options
	// last is the size of the previous frame, used to size the next buffer.
	last atomic.Int64
}

// NewJPEGEncoder creates an encoder; quality is clamped to 1-100.
func NewJPEGEncoder(quality int) *JPEGEncoder {
	return &JPEGEncoder{opts: jpeg.Options{Quality: min(max(quality, 1), 100)}}
}

// Quality returns the effective quality.
func (e *JPEGEncoder) Quality() int { return e.opts.Quality }

// Encode accepts any image; YCbCr frames are encoded without an RGB pass.
func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if n := e.last.Load(); n > 0 {
		buf.Grow(int(n + n/8))
	}
	if err := jpeg.Encode(&buf, img, &e.opts); err != nil {
		return nil, fmt.Errorf("jpeg encode %v: %w", img.Bounds().Size(), err)
	}
	e.last.Store(int64(buf.Len()))
	return buf.Bytes(), nil
}

var _ Encoder = (*JPEGEncoder)(nil)
