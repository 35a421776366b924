// Package decoder turns encoded remote frames back into pixels.
package decoder

import "errors"

// ErrShortBuffer means the destination cannot hold the decoded frame.
var ErrShortBuffer = errors.New("decoder: destination buffer too small")

// Decoder writes encoded frames as tightly packed RGBA into caller-owned
// memory, so receivers can decode straight into a capture buffer.
type Decoder interface {
	// Size reports the frame dimensions without decoding pixels.
	Size(data []byte) (width, height int, err error)
	// DecodeInto decodes data into dst, which must hold width*height*4
	// bytes. Rows are width*4 bytes apart.
	DecodeInto(dst, data []byte) error
}
