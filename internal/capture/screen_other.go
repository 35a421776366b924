//go:build !darwin

package capture

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ScreenConfig configures a CoreGraphics screen source.
type ScreenConfig struct {
	DisplayIndex int
	FPS          float64
	Buffers      int
	Timeout      time.Duration
}

// NewScreen is only available on macOS.
func NewScreen(cfg ScreenConfig, logger zerolog.Logger) (Source, error) {
	return nil, fmt.Errorf("screen: screen capture is only supported on macOS")
}
