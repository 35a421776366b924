//go:build linux

package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
)

// pixFmtYUV420 is V4L2_PIX_FMT_YUV420 ('YU12').
const pixFmtYUV420 = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24

// V4L2Config configures a V4L2 capture device.
type V4L2Config struct {
	Device     string
	Width      int
	Height     int
	FPS        float64
	Buffers    int
	Timeout    time.Duration
	ColorSpace frame.ColorSpace
}

// V4L2 captures YUV420 frames from a V4L2 device using mmap streaming I/O.
// Each completed driver buffer is copied into a pool slot whose lease follows
// the pipeline; when the pipeline holds every slot, completions are dropped
// and the device eventually reports a timeout.
type V4L2 struct {
	cfg  V4L2Config
	pool *Pool
	log  zerolog.Logger

	mu     sync.Mutex
	dev    *device.Device
	cancel context.CancelFunc
	wg     sync.WaitGroup
	msgs   chan Message
	planes []frame.Plane
	stride int
	seq    uint64
}

// NewV4L2 validates cfg. The device is opened on Start.
func NewV4L2(cfg V4L2Config, logger zerolog.Logger) (*V4L2, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("v4l2: device path is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("v4l2: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Buffers < 2 {
		return nil, fmt.Errorf("v4l2: need at least 2 buffers, got %d", cfg.Buffers)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	planes := frame.YUV420Planes(cfg.Width, cfg.Height)
	return &V4L2{
		cfg:    cfg,
		pool:   NewPool(cfg.Buffers, frame.Size(planes), logger),
		log:    logger,
		msgs:   make(chan Message, cfg.Buffers),
		planes: planes,
		stride: cfg.Width,
	}, nil
}

func (v *V4L2) Name() string { return "v4l2:" + v.cfg.Device }

func (v *V4L2) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dev != nil {
		return fmt.Errorf("v4l2: already running")
	}

	opts := []device.Option{
		device.WithIOType(v4l2.IOTypeMMAP),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: pixFmtYUV420,
			Width:       uint32(v.cfg.Width),
			Height:      uint32(v.cfg.Height),
			Field:       v4l2.FieldNone,
		}),
		device.WithBufferSize(uint32(v.cfg.Buffers)),
	}
	if v.cfg.FPS > 0 {
		opts = append(opts, device.WithFPS(uint32(v.cfg.FPS)))
	}
	dev, err := device.Open(v.cfg.Device, opts...)
	if err != nil {
		return fmt.Errorf("v4l2: open %s: %w", v.cfg.Device, err)
	}

	pix, err := dev.GetPixFormat()
	if err != nil {
		dev.Close()
		return fmt.Errorf("v4l2: query format: %w", err)
	}
	if pix.PixelFormat != pixFmtYUV420 {
		dev.Close()
		return fmt.Errorf("v4l2: device does not deliver YUV420 (got fourcc %#x)", pix.PixelFormat)
	}
	if int(pix.Width) != v.cfg.Width || int(pix.Height) != v.cfg.Height || int(pix.BytesPerLine) != v.stride {
		v.cfg.Width, v.cfg.Height = int(pix.Width), int(pix.Height)
		v.stride = int(pix.BytesPerLine)
		v.planes = frame.YUV420Planes(v.stride, v.cfg.Height)
		v.log.Info().
			Str(xlog.FieldResolution, fmt.Sprintf("%dx%d", v.cfg.Width, v.cfg.Height)).
			Int("stride", v.stride).
			Msg("device adjusted capture format")
	}

	devCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := dev.Start(devCtx); err != nil {
		cancel()
		dev.Close()
		return fmt.Errorf("v4l2: start streaming: %w", err)
	}

	v.pool.Reclaim()
	v.dev = dev
	v.cancel = cancel
	v.wg.Add(1)
	go v.pump(devCtx, dev.GetOutput())

	v.log.Info().
		Str(xlog.FieldDevice, v.cfg.Device).
		Str(xlog.FieldResolution, fmt.Sprintf("%dx%d", v.cfg.Width, v.cfg.Height)).
		Msg("v4l2 streaming started")
	return nil
}

func (v *V4L2) Stop() error {
	v.mu.Lock()
	dev := v.dev
	cancel := v.cancel
	v.dev = nil
	v.cancel = nil
	v.mu.Unlock()
	if dev == nil {
		return nil
	}

	cancel()
	err := dev.Close()
	v.wg.Wait()
	drain(v.msgs)
	if err != nil {
		return fmt.Errorf("v4l2: close %s: %w", v.cfg.Device, err)
	}
	return nil
}

func (v *V4L2) Wait(ctx context.Context) (Message, error) {
	return waitMessage(ctx, v.msgs, v.cfg.Timeout)
}

func (v *V4L2) pump(ctx context.Context, out <-chan []byte) {
	defer v.wg.Done()
	geo := frame.Geometry{
		Width:      v.cfg.Width,
		Height:     v.cfg.Height,
		Format:     frame.FormatYUV420,
		ColorSpace: v.cfg.ColorSpace,
		Stride:     v.stride,
	}
	size := frame.Size(v.planes)
	for {
		var data []byte
		select {
		case <-ctx.Done():
			return
		case d, ok := <-out:
			if !ok {
				return
			}
			data = d
		}
		if len(data) < size {
			v.log.Warn().Int("bytes", len(data)).Int("want", size).Msg("short frame from driver, dropping")
			continue
		}
		b, ok := v.pool.Get()
		if !ok {
			v.log.Debug().Msg("no free buffer, dropping completion")
			continue
		}
		copy(b.Grow(size), data[:size])
		v.seq++
		h := v.pool.Lend(b, geo, v.planes, v.seq)
		select {
		case v.msgs <- Message{Type: MsgFrameReady, Frame: h}:
		default:
			h.Release()
		}
	}
}
