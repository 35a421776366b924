package capture

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/camview/internal/encoder"
	"github.com/junsooki/camview/internal/frame"
)

func TestNewRemote_Validates(t *testing.T) {
	_, err := NewRemote(RemoteConfig{Buffers: 4}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewRemote(RemoteConfig{SignalingURL: "ws://x", ViewerID: "v", PublisherID: "p", Buffers: 1}, zerolog.Nop())
	assert.Error(t, err)

	r, err := NewRemote(RemoteConfig{SignalingURL: "ws://x", ViewerID: "v", PublisherID: "p", Buffers: 2}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "remote:p", r.Name())
	assert.NoError(t, r.Stop(), "stop before start is a no-op")
}

func TestRemote_DecodesFramesIntoPool(t *testing.T) {
	r, err := NewRemote(RemoteConfig{
		SignalingURL: "ws://x", ViewerID: "v", PublisherID: "p",
		Buffers: 2, Timeout: 50 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.RGBA{A: 0xff})
	data, err := encoder.NewJPEGEncoder(90).Encode(img)
	require.NoError(t, err)

	r.onFrame(r.gen, data)
	r.onFrame(r.gen, []byte("garbage"))
	r.onFrame(r.gen+1, data) // frame from a connection already stopped

	msg, err := r.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, MsgFrameReady, msg.Type)
	h := msg.Frame
	assert.Equal(t, frame.FormatRGBA, h.Format)
	assert.Equal(t, 16, h.Width)
	assert.Equal(t, 8, h.Height)
	assert.NoError(t, h.Validate())
	assert.Equal(t, 1, r.pool.Outstanding())

	msg, err = r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MsgTimeout, msg.Type)

	assert.True(t, h.Release())
	assert.Equal(t, 0, r.pool.Outstanding())
}
