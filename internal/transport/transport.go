// Package transport moves encoded frames between a publisher and a viewer.
package transport

// FrameSender is the publishing half: one encoded frame per message,
// unordered and without retransmits.
type FrameSender interface {
	SendFrame(data []byte) error
	// Ready reports whether a frame sent now can reach the peer.
	Ready() bool
}

// FrameReceiver is the viewing half.
type FrameReceiver interface {
	OnFrame(callback func(data []byte))
}
