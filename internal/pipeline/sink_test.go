package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/junsooki/camview/internal/display"
	"github.com/junsooki/camview/internal/frame"
)

// gatedSink renders the first free frames at once; later renders block
// until gate is closed, signalling blocked when they start waiting.
type gatedSink struct {
	display.DoneTracker
	free    int
	gate    chan struct{}
	blocked chan struct{}

	mu       sync.Mutex
	rendered []frame.Key
	imports  map[frame.ID]int
	calls    int
}

func newGatedSink(free int) *gatedSink {
	return &gatedSink{
		free:    free,
		gate:    make(chan struct{}),
		blocked: make(chan struct{}, 16),
		imports: make(map[frame.ID]int),
	}
}

func (s *gatedSink) Name() string { return "gated" }

func (s *gatedSink) Import(h *frame.Handle) (display.Resource, error) {
	s.mu.Lock()
	s.imports[h.ID]++
	s.mu.Unlock()
	return h.ID, nil
}

func (s *gatedSink) Render(ctx context.Context, _ display.Resource, h *frame.Handle) error {
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.mu.Unlock()
	if n >= s.free {
		s.blocked <- struct{}{}
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.Shown(h)
	s.mu.Lock()
	s.rendered = append(s.rendered, h.Key())
	s.mu.Unlock()
	return nil
}

func (s *gatedSink) Destroy(display.Resource) error { return nil }
func (s *gatedSink) Reset()                         { s.Flush() }
func (s *gatedSink) MaxImageSize() (int, int)       { return 0, 0 }
func (s *gatedSink) Close() error                   { s.Flush(); return nil }

func (s *gatedSink) renderedKeys() []frame.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.Key(nil), s.rendered...)
}

func (s *gatedSink) importCount(id frame.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imports[id]
}

// waitRendered runs on the loop goroutine, so it must not call FailNow.
func (s *gatedSink) waitRendered(t *testing.T, n int) {
	assert.Eventually(t, func() bool { return len(s.renderedKeys()) >= n }, 2*time.Second, time.Millisecond)
}
