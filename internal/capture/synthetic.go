package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
)

// SyntheticConfig configures a test-pattern source.
type SyntheticConfig struct {
	Width      int
	Height     int
	FPS        float64
	Buffers    int
	Timeout    time.Duration
	ColorSpace frame.ColorSpace
	// StallEvery makes the device stop producing after this many frames per
	// start, for StallFor. Zero disables stalls.
	StallEvery int
	StallFor   time.Duration
	// Frames ends the stream with MsgQuit after this many frames. Zero means
	// unlimited.
	Frames int
}

// Synthetic produces a moving YUV420 test pattern at a fixed rate.
type Synthetic struct {
	cfg    SyntheticConfig
	pool   *Pool
	log    zerolog.Logger
	planes []frame.Plane

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	msgs    chan Message
	seq     uint64
}

// NewSynthetic validates cfg and allocates the buffer pool.
func NewSynthetic(cfg SyntheticConfig, logger zerolog.Logger) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, fmt.Errorf("synthetic: size must be positive and even, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("synthetic: fps must be positive, got %v", cfg.FPS)
	}
	if cfg.Buffers < 2 {
		return nil, fmt.Errorf("synthetic: need at least 2 buffers, got %d", cfg.Buffers)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	planes := frame.YUV420Planes(cfg.Width, cfg.Height)
	return &Synthetic{
		cfg:    cfg,
		pool:   NewPool(cfg.Buffers, frame.Size(planes), logger),
		log:    logger,
		planes: planes,
		msgs:   make(chan Message, cfg.Buffers),
	}, nil
}

func (s *Synthetic) Name() string { return "synthetic" }

// Pool exposes the buffer pool for inspection.
func (s *Synthetic) Pool() *Pool { return s.pool }

func (s *Synthetic) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("synthetic: already running")
	}
	s.pool.Reclaim()
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopCh)
	s.log.Info().
		Str(xlog.FieldResolution, fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height)).
		Float64(xlog.FieldFPS, s.cfg.FPS).
		Int("buffers", s.cfg.Buffers).
		Msg("synthetic source started")
	return nil
}

func (s *Synthetic) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	drain(s.msgs)
	return nil
}

func (s *Synthetic) Wait(ctx context.Context) (Message, error) {
	return waitMessage(ctx, s.msgs, s.cfg.Timeout)
}

func (s *Synthetic) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FPS))
	defer ticker.Stop()

	produced := 0
	var stallUntil time.Time
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if now.Before(stallUntil) {
				continue
			}
			if s.cfg.Frames > 0 && int(s.seq) >= s.cfg.Frames {
				select {
				case s.msgs <- Message{Type: MsgQuit}:
				case <-stop:
				}
				return
			}
			if s.cfg.StallEvery > 0 && produced > 0 && produced%s.cfg.StallEvery == 0 && stallUntil.IsZero() {
				stallUntil = now.Add(s.cfg.StallFor)
				s.log.Debug().Dur("stall", s.cfg.StallFor).Msg("synthetic source stalling")
				continue
			}
			if s.produce() {
				produced++
			}
		}
	}
}

// produce fills a free buffer and queues it. It reports false when the
// pipeline holds every buffer, which starves the device like real hardware.
func (s *Synthetic) produce() bool {
	b, ok := s.pool.Get()
	if !ok {
		s.log.Debug().Msg("no free buffer, skipping frame")
		return false
	}
	s.seq++
	paintPattern(b.Data(), s.planes, s.cfg.Width, s.cfg.Height, s.seq)

	geo := frame.Geometry{
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		Format:     frame.FormatYUV420,
		ColorSpace: s.cfg.ColorSpace,
		Stride:     s.cfg.Width,
	}
	h := s.pool.Lend(b, geo, s.planes, s.seq)
	select {
	case s.msgs <- Message{Type: MsgFrameReady, Frame: h}:
		return true
	default:
		h.Release()
		return false
	}
}

// paintPattern draws diagonal luma bars that move one pixel per frame over
// flat chroma.
func paintPattern(data []byte, planes []frame.Plane, w, h int, seq uint64) {
	y := planes[0]
	shift := int(seq % 256)
	for row := 0; row < h; row++ {
		line := data[y.Offset+row*y.Stride : y.Offset+row*y.Stride+w]
		for col := range line {
			line[col] = byte((col + row + shift) & 0xff)
		}
	}
	for _, c := range planes[1:] {
		chroma := data[c.Offset : c.Offset+c.Length]
		for i := range chroma {
			chroma[i] = 128
		}
	}
}

// waitMessage implements Source.Wait over a message channel with a device
// deadline.
func waitMessage(ctx context.Context, msgs <-chan Message, timeout time.Duration) (Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-msgs:
		return m, nil
	case <-timer.C:
		return Message{Type: MsgTimeout}, nil
	case <-ctx.Done():
		return Message{}, context.Cause(ctx)
	}
}

// drain releases frames queued but never delivered.
func drain(msgs chan Message) {
	for {
		select {
		case m := <-msgs:
			if m.Frame != nil {
				m.Frame.Release()
			}
		default:
			return
		}
	}
}
