package capture

import (
	"context"
	"fmt"

	"github.com/junsooki/camview/internal/frame"
)

// MsgType identifies what a Wait call produced.
type MsgType int

const (
	// MsgFrameReady carries a leased buffer.
	MsgFrameReady MsgType = iota
	// MsgTimeout means no completion arrived within the device deadline.
	MsgTimeout
	// MsgQuit means the device has nothing more to deliver.
	MsgQuit
)

func (t MsgType) String() string {
	switch t {
	case MsgFrameReady:
		return "frame_ready"
	case MsgTimeout:
		return "timeout"
	case MsgQuit:
		return "quit"
	default:
		return fmt.Sprintf("MsgType(%d)", int(t))
	}
}

// Message is one completion from a Source.
type Message struct {
	Type  MsgType
	Frame *frame.Handle
}

// Source is a capture device. Buffers handed out in MsgFrameReady messages
// go back to the device when their handle is released; the device never
// reuses an id while its lease is outstanding.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Start begins streaming. It reclaims every buffer still out on lease.
	Start(ctx context.Context) error
	// Stop halts streaming. Safe to call when not running.
	Stop() error
	// Wait blocks until a message is available or ctx is done, in which
	// case it returns the context's cause.
	Wait(ctx context.Context) (Message, error)
}
