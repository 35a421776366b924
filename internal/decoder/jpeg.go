package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// JPEGDecoder decodes baseline and progressive JPEG frames.
type JPEGDecoder struct{}

func NewJPEGDecoder() *JPEGDecoder {
	return &JPEGDecoder{}
}

func (d *JPEGDecoder) Size(data []byte) (int, int, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("jpeg header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func (d *JPEGDecoder) DecodeInto(dst, data []byte) error {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("jpeg decode: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if len(dst) < w*h*4 {
		return fmt.Errorf("%w: need %d bytes for %dx%d, have %d", ErrShortBuffer, w*h*4, w, h, len(dst))
	}
	out := &image.RGBA{Pix: dst[:w*h*4], Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return nil
}

var _ Decoder = (*JPEGDecoder)(nil)
