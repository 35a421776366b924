//go:build darwin

package capture

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation
#include <CoreGraphics/CoreGraphics.h>
#include <dlfcn.h>
#include <stdlib.h>

typedef struct {
    void*  data;
    size_t size;
    int    width;
    int    height;
    size_t bytesPerRow;
} ScreenGrab;

// CGWindowListCreateImage is unavailable in the macOS 15 SDK headers but still
// present in the CoreGraphics dylib. Load it dynamically.
typedef CGImageRef (*CGWindowListCreateImageFunc)(
    CGRect screenBounds,
    uint32_t listOption,
    uint32_t windowID,
    uint32_t imageOption
);

static CGWindowListCreateImageFunc getCGWindowListCreateImage(void) {
    static CGWindowListCreateImageFunc fn = NULL;
    if (!fn) {
        fn = (CGWindowListCreateImageFunc)dlsym(RTLD_DEFAULT, "CGWindowListCreateImage");
    }
    return fn;
}

static int preflightScreenCapture(void) {
    return CGPreflightScreenCaptureAccess();
}

ScreenGrab grabDisplay(CGDirectDisplayID displayID) {
    ScreenGrab result = {0};

    CGWindowListCreateImageFunc fn = getCGWindowListCreateImage();
    if (!fn) {
        return result;
    }

    CGRect bounds = CGDisplayBounds(displayID);
    // kCGWindowListOptionOnScreenOnly = 1, kCGNullWindowID = 0, kCGWindowImageDefault = 0
    CGImageRef image = fn(bounds, 1, 0, 0);
    if (!image) {
        return result;
    }

    result.width  = (int)CGImageGetWidth(image);
    result.height = (int)CGImageGetHeight(image);

    result.bytesPerRow = result.width * 4;
    result.size        = result.bytesPerRow * result.height;
    result.data        = malloc(result.size);
    if (!result.data) {
        CGImageRelease(image);
        result.size = 0;
        return result;
    }

    CGColorSpaceRef cs = CGColorSpaceCreateDeviceRGB();
    CGContextRef ctx = CGBitmapContextCreate(
        result.data,
        result.width,
        result.height,
        8,
        result.bytesPerRow,
        cs,
        kCGImageAlphaPremultipliedLast
    );
    CGContextDrawImage(ctx, CGRectMake(0, 0, result.width, result.height), image);
    CGContextRelease(ctx);
    CGColorSpaceRelease(cs);
    CGImageRelease(image);

    return result;
}

void freeScreenGrab(void* data) {
    free(data);
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/junsooki/camview/internal/frame"
)

// ScreenConfig configures a CoreGraphics screen source.
type ScreenConfig struct {
	DisplayIndex int
	FPS          float64
	Buffers      int
	Timeout      time.Duration
}

// Screen captures a display as RGBA frames using CoreGraphics. It stands in
// for a camera on macOS development machines.
type Screen struct {
	cfg       ScreenConfig
	displayID C.CGDirectDisplayID
	pool      *Pool
	log       zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	msgs    chan Message
	seq     uint64
}

// NewScreen resolves the display and checks screen recording permission.
func NewScreen(cfg ScreenConfig, logger zerolog.Logger) (*Screen, error) {
	if cfg.FPS <= 0 || cfg.FPS > 60 {
		return nil, fmt.Errorf("screen: fps must be 1-60, got %v", cfg.FPS)
	}
	if cfg.Buffers < 2 {
		return nil, fmt.Errorf("screen: need at least 2 buffers, got %d", cfg.Buffers)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if C.preflightScreenCapture() == 0 {
		return nil, fmt.Errorf("screen: Screen Recording permission not granted (System Settings > Privacy)")
	}

	var displayID C.CGDirectDisplayID
	if cfg.DisplayIndex == 0 {
		displayID = C.CGMainDisplayID()
	} else {
		var displays [16]C.CGDirectDisplayID
		var count C.uint32_t
		C.CGGetActiveDisplayList(16, &displays[0], &count)
		if cfg.DisplayIndex >= int(count) {
			return nil, fmt.Errorf("screen: display index %d out of range (have %d displays)", cfg.DisplayIndex, count)
		}
		displayID = displays[cfg.DisplayIndex]
	}

	return &Screen{
		cfg:       cfg,
		displayID: displayID,
		pool:      NewPool(cfg.Buffers, 0, logger),
		log:       logger,
		msgs:      make(chan Message, cfg.Buffers),
	}, nil
}

func (s *Screen) Name() string { return "screen" }

func (s *Screen) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("screen: already running")
	}
	s.pool.Reclaim()
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopCh)
	return nil
}

func (s *Screen) Stop() error {
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

func (s *Screen) Wait(ctx context.Context) (Message, error) {
	return waitMessage(ctx, s.msgs, s.cfg.Timeout)
}

func (s *Screen) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h := s.grab()
			if h == nil {
				continue
			}
			select {
			case s.msgs <- Message{Type: MsgFrameReady, Frame: h}:
			default:
				h.Release()
			}
		}
	}
}

func (s *Screen) grab() *frame.Handle {
	b, ok := s.pool.Get()
	if !ok {
		return nil
	}
	g := C.grabDisplay(s.displayID)
	if g.data == nil {
		s.pool.Put(b)
		return nil
	}
	defer C.freeScreenGrab(g.data)

	w, h := int(g.width), int(g.height)
	n := int(g.size)
	copy(b.Grow(n), unsafe.Slice((*byte)(g.data), n))

	s.seq++
	geo := frame.Geometry{Width: w, Height: h, Format: frame.FormatRGBA, ColorSpace: frame.ColorSpaceRaw, Stride: w * 4}
	return s.pool.Lend(b, geo, frame.RGBAPlanes(w, h), s.seq)
}
