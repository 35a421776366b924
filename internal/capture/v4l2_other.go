//go:build !linux

package capture

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/frame"
)

// V4L2Config configures a V4L2 capture device.
type V4L2Config struct {
	Device     string
	Width      int
	Height     int
	FPS        float64
	Buffers    int
	Timeout    time.Duration
	ColorSpace frame.ColorSpace
}

// NewV4L2 is only available on Linux.
func NewV4L2(cfg V4L2Config, logger zerolog.Logger) (Source, error) {
	return nil, fmt.Errorf("v4l2: V4L2 capture is only supported on Linux")
}
