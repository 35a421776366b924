package transport

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// FramesLabel is the data channel label carrying encoded frames.
const FramesLabel = "frames"

// DataChannelTransport carries encoded frames over a WebRTC DataChannel.
// The channel may be attached after construction, from pion's goroutines.
type DataChannelTransport struct {
	mu       sync.Mutex
	framesDC *webrtc.DataChannel
	onFrame  func(data []byte)
}

// NewDataChannelTransport wraps a frames DataChannel, which may be nil until
// the remote side negotiates one.
func NewDataChannelTransport(framesDC *webrtc.DataChannel) *DataChannelTransport {
	t := &DataChannelTransport{}
	if framesDC != nil {
		t.SetFramesChannel(framesDC)
	}
	return t
}

// SendFrame sends one encoded frame.
func (t *DataChannelTransport) SendFrame(data []byte) error {
	t.mu.Lock()
	dc := t.framesDC
	t.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("frames data channel not set")
	}
	return dc.Send(data)
}

// Ready reports whether the frames channel is open.
func (t *DataChannelTransport) Ready() bool {
	t.mu.Lock()
	dc := t.framesDC
	t.mu.Unlock()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// OnFrame registers the callback for received frames.
func (t *DataChannelTransport) OnFrame(cb func(data []byte)) {
	t.mu.Lock()
	t.onFrame = cb
	t.mu.Unlock()
}

// SetFramesChannel sets or replaces the frames DataChannel (used when receiving negotiated channels).
func (t *DataChannelTransport) SetFramesChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.framesDC = dc
	t.mu.Unlock()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.Lock()
		cb := t.onFrame
		t.mu.Unlock()
		if cb != nil {
			cb(msg.Data)
		}
	})
}
