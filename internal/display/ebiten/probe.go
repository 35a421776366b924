package ebiten

import (
	"errors"
	"os"
	"runtime"
)

// ErrNoDisplay means no window system is reachable from this process.
var ErrNoDisplay = errors.New("no window system (DISPLAY and WAYLAND_DISPLAY unset)")

// Probe reports whether a window can be opened. Only X11 and Wayland
// sessions on unix need checking; other platforms always have a desktop.
func Probe() error {
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
			return ErrNoDisplay
		}
	}
	return nil
}
