package display

import (
	"sync"

	"github.com/junsooki/camview/internal/frame"
)

// DoneTracker implements the release rule shared by all backends: a buffer
// stays held while it is on screen and is handed to the done callback when
// the next one is shown or the tracker is flushed. Backends embed it.
type DoneTracker struct {
	mu   sync.Mutex
	done func(*frame.Handle)
	held *frame.Handle
}

// SetDone installs the release callback.
func (t *DoneTracker) SetDone(done func(*frame.Handle)) {
	t.mu.Lock()
	t.done = done
	t.mu.Unlock()
}

// Shown records h as the buffer on screen and releases the previous one.
func (t *DoneTracker) Shown(h *frame.Handle) {
	t.mu.Lock()
	prev := t.held
	t.held = h
	done := t.done
	t.mu.Unlock()
	if prev != nil && prev != h && done != nil {
		done(prev)
	}
}

// Flush releases the buffer on screen.
func (t *DoneTracker) Flush() {
	t.mu.Lock()
	prev := t.held
	t.held = nil
	done := t.done
	t.mu.Unlock()
	if prev != nil && done != nil {
		done(prev)
	}
}

// Held returns the buffer on screen.
func (t *DoneTracker) Held() *frame.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held
}
