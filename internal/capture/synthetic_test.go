package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
)

func newTestSynthetic(t *testing.T, mutate func(*SyntheticConfig)) *Synthetic {
	t.Helper()
	cfg := SyntheticConfig{
		Width:   8,
		Height:  4,
		FPS:     200,
		Buffers: 3,
		Timeout: 200 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSynthetic(cfg, xlog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewSynthetic_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SyntheticConfig
	}{
		{"odd width", SyntheticConfig{Width: 3, Height: 2, FPS: 1, Buffers: 2}},
		{"zero fps", SyntheticConfig{Width: 2, Height: 2, Buffers: 2}},
		{"one buffer", SyntheticConfig{Width: 2, Height: 2, FPS: 1, Buffers: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSynthetic(tt.cfg, xlog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestSynthetic_DeliversFramesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestSynthetic(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	var last uint64
	for i := 0; i < 5; i++ {
		msg, err := s.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, MsgFrameReady, msg.Type)
		h := msg.Frame
		assert.Greater(t, h.Seq, last)
		last = h.Seq
		assert.Equal(t, frame.FormatYUV420, h.Format)
		require.NoError(t, h.Validate())
		h.Release()
	}
}

func TestSynthetic_TimesOutWhenStarved(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestSynthetic(t, func(c *SyntheticConfig) { c.Timeout = 100 * time.Millisecond })
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	// Hold every buffer: the device has nothing to fill.
	for i := 0; i < 3; i++ {
		msg, err := s.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, MsgFrameReady, msg.Type)
	}
	msg, err := s.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgTimeout, msg.Type)
}

func TestSynthetic_RestartReclaimsBuffers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestSynthetic(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	msg, err := s.Wait(ctx)
	require.NoError(t, err)
	held := msg.Frame

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	held.Release()
	assert.Equal(t, uint64(1), s.Pool().StaleReleases())
}

func TestSynthetic_QuitsAfterFrameLimit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestSynthetic(t, func(c *SyntheticConfig) { c.Frames = 2 })
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	var types []MsgType
	for len(types) < 3 {
		msg, err := s.Wait(ctx)
		require.NoError(t, err)
		types = append(types, msg.Type)
		if msg.Frame != nil {
			msg.Frame.Release()
		}
	}
	assert.Equal(t, []MsgType{MsgFrameReady, MsgFrameReady, MsgQuit}, types)
}

func TestSynthetic_WaitReturnsCause(t *testing.T) {
	s := newTestSynthetic(t, nil)
	stop := errors.New("stop now")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(stop)

	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, stop)
}

func TestSynthetic_StartTwice(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestSynthetic(t, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop(), "stop is idempotent")
}
