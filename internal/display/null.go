package display

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/junsooki/camview/internal/frame"
)

// Null is the backend used when no display is attached. Rendering is a
// no-op paced by an optional frame interval, with the same release timing
// as a real display.
type Null struct {
	DoneTracker
	interval time.Duration
	rendered atomic.Uint64
	closed   atomic.Bool
}

// NewNull returns a null sink. A positive interval simulates a display link
// of that period.
func NewNull(interval time.Duration) *Null {
	return &Null{interval: interval}
}

func (n *Null) Name() string { return "null" }

func (n *Null) Import(h *frame.Handle) (Resource, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h.Geometry(), nil
}

func (n *Null) Render(ctx context.Context, _ Resource, h *frame.Handle) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if n.interval > 0 {
		t := time.NewTimer(n.interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	n.rendered.Add(1)
	n.Shown(h)
	return nil
}

func (n *Null) Destroy(Resource) error { return nil }

func (n *Null) Reset() { n.Flush() }

func (n *Null) MaxImageSize() (int, int) { return 0, 0 }

// Rendered returns the number of frames shown.
func (n *Null) Rendered() uint64 { return n.rendered.Load() }

func (n *Null) Close() error {
	n.closed.Store(true)
	n.Flush()
	return nil
}
