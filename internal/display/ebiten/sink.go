// Package ebiten is the GPU display backend. Each capture buffer id gets its
// own texture, uploaded on render and drawn at the display refresh rate.
package ebiten

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/display"
	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
)

// Options configures the window.
type Options struct {
	Title  string
	Width  int
	Height int
}

// texture is the resource imported for one buffer id.
type texture struct {
	img  *ebiten.Image
	rgba *image.RGBA
}

type job struct {
	tex   *texture
	h     *frame.Handle
	drawn chan struct{}
}

// Sink renders frames in an ebiten window. Run must be called on the main
// goroutine; Render blocks until the frame has been drawn.
type Sink struct {
	display.DoneTracker
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	next    *job
	current *texture

	quit      atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates the sink. The window opens when Run is called.
func New(opts Options, logger zerolog.Logger) *Sink {
	if opts.Title == "" {
		opts.Title = "camview"
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	return &Sink{
		opts:   opts,
		log:    logger,
		closed: make(chan struct{}),
	}
}

func (s *Sink) Name() string { return "ebiten" }

// Run starts the Ebitengine game loop. Must be called from the main goroutine.
func (s *Sink) Run() error {
	ebiten.SetWindowSize(s.opts.Width, s.opts.Height)
	ebiten.SetWindowTitle(s.opts.Title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowClosingHandled(true)
	err := ebiten.RunGame(s)
	s.markClosed()
	return err
}

// Closed is closed once the window is gone.
func (s *Sink) Closed() <-chan struct{} { return s.closed }

func (s *Sink) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Sink) Import(h *frame.Handle) (display.Resource, error) {
	if err := display.CheckFormat(h); err != nil {
		return nil, err
	}
	if h.Format == frame.FormatYUV420 {
		if _, ok := display.ResolveColorSpace(h.ColorSpace); !ok {
			s.log.Warn().
				Int(xlog.FieldBufferID, int(h.ID)).
				Str("color_space", h.ColorSpace.String()).
				Msg("unexpected colour space, rendering as smpte170m")
		}
	}
	return &texture{
		img:  ebiten.NewImage(h.Width, h.Height),
		rgba: image.NewRGBA(image.Rect(0, 0, h.Width, h.Height)),
	}, nil
}

func (s *Sink) Render(ctx context.Context, res display.Resource, h *frame.Handle) error {
	tex, ok := res.(*texture)
	if !ok {
		return fmt.Errorf("ebiten: foreign resource %T", res)
	}
	rgba, err := display.ToRGBA(tex.rgba, h)
	if err != nil {
		return err
	}
	tex.rgba = rgba

	j := &job{tex: tex, h: h, drawn: make(chan struct{})}
	s.mu.Lock()
	s.next = j
	s.mu.Unlock()

	select {
	case <-j.drawn:
		return nil
	case <-s.closed:
		s.dropJob(j)
		return display.ErrClosed
	case <-ctx.Done():
		s.dropJob(j)
		return ctx.Err()
	}
}

// dropJob withdraws j unless Draw already took it.
func (s *Sink) dropJob(j *job) {
	s.mu.Lock()
	if s.next == j {
		s.next = nil
	}
	s.mu.Unlock()
}

func (s *Sink) Destroy(res display.Resource) error {
	tex, ok := res.(*texture)
	if !ok {
		return fmt.Errorf("ebiten: foreign resource %T", res)
	}
	s.mu.Lock()
	if s.current == tex {
		s.current = nil
	}
	s.mu.Unlock()
	tex.img.Deallocate()
	return nil
}

func (s *Sink) Reset() {
	s.mu.Lock()
	s.next = nil
	s.current = nil
	s.mu.Unlock()
	s.Flush()
}

// MaxImageSize returns the size of the monitor the window is on.
func (s *Sink) MaxImageSize() (int, int) {
	m := ebiten.Monitor()
	if m == nil {
		return 0, 0
	}
	return m.Size()
}

// Close stops the game loop and releases the buffer on screen.
func (s *Sink) Close() error {
	s.quit.Store(true)
	s.Reset()
	return nil
}

// --- ebiten.Game interface ---

func (s *Sink) Update() error {
	if s.quit.Load() {
		return ebiten.Termination
	}
	if ebiten.IsWindowBeingClosed() ||
		inpututil.IsKeyJustPressed(ebiten.KeyX) ||
		inpututil.IsKeyJustPressed(ebiten.KeyQ) {
		s.log.Info().Msg("display closed by user")
		s.markClosed()
		return ebiten.Termination
	}
	return nil
}

func (s *Sink) Draw(screen *ebiten.Image) {
	s.mu.Lock()
	j := s.next
	s.next = nil
	if j != nil {
		j.tex.img.WritePixels(j.tex.rgba.Pix)
		s.current = j.tex
	}
	cur := s.current
	s.mu.Unlock()

	if j != nil {
		s.Shown(j.h)
		close(j.drawn)
	}
	if cur == nil {
		return
	}

	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	fw, fh := float64(cur.img.Bounds().Dx()), float64(cur.img.Bounds().Dy())
	scale, offsetX, offsetY := aspectFitTransform(float64(sw), float64(sh), fw, fh)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(offsetX, offsetY)
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(cur.img, op)
}

func (s *Sink) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

// aspectFitTransform returns scale and offsets to fit frame into view with letterboxing.
func aspectFitTransform(viewW, viewH, frameW, frameH float64) (scale, offsetX, offsetY float64) {
	scale = math.Min(viewW/frameW, viewH/frameH)
	offsetX = (viewW - frameW*scale) / 2
	offsetY = (viewH - frameH*scale) / 2
	return
}

var (
	_ display.Sink           = (*Sink)(nil)
	_ display.Runner         = (*Sink)(nil)
	_ display.ClosedNotifier = (*Sink)(nil)
)
