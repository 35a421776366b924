// Package encoder compresses preview frames for the network backends.
package encoder

import "image"

// Encoder compresses one frame. The returned slice is owned by the caller.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}
